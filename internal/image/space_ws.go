package image

import (
	"context"
	"strings"

	"github.com/dmorgan81/illustrate/internal/log"
	"github.com/google/uuid"
)

type queueMessage struct {
	Msg       string `json:"msg"`
	Rank      int    `json:"rank"`
	QueueSize int    `json:"queue_size"`
	Success   bool   `json:"success"`
	Output    struct {
		Data  []any  `json:"data"`
		Error string `json:"error"`
	} `json:"output"`
}

type queueJoin struct {
	FnIndex     int    `json:"fn_index"`
	SessionHash string `json:"session_hash"`
}

type queueData struct {
	Data        []any  `json:"data"`
	EventData   any    `json:"event_data"`
	FnIndex     int    `json:"fn_index"`
	SessionHash string `json:"session_hash"`
}

// callWebsocket speaks the legacy queue protocol used by spaces whose config
// reports protocol "ws".
func (g *SpaceGenerator) callWebsocket(ctx context.Context, conn *spaceConn, args []any) ([]any, error) {
	logger := log.FromContextOrDiscard(ctx).WithGroup("space")
	wsURL := "ws" + strings.TrimPrefix(conn.root, "http") + "/queue/join"

	ws, resp, err := g.dialer.DialContext(ctx, wsURL, conn.header)
	if err != nil {
		if resp != nil {
			return nil, classifySpaceStatus(resp)
		}
		return nil, classifyTransport(err)
	}
	defer ws.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-done:
		}
	}()

	session := uuid.NewString()
	for {
		var msg queueMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil, classifyTransport(ctx.Err())
			}
			return nil, NewConnectionError("Queue connection dropped", err)
		}

		switch msg.Msg {
		case "send_hash":
			err = ws.WriteJSON(queueJoin{FnIndex: conn.fnIndex, SessionHash: session})
		case "queue_full":
			return nil, NewConnectionError(MsgSpaceBusy, nil)
		case "estimation":
			logger.Info("waiting in space queue", "rank", msg.Rank, "size", msg.QueueSize)
		case "send_data":
			err = ws.WriteJSON(queueData{Data: args, FnIndex: conn.fnIndex, SessionHash: session})
		case "process_starts":
			logger.Debug("space started processing")
		case "process_completed":
			if !msg.Success {
				return nil, classifySpaceMessage(msg.Output.Error)
			}
			return msg.Output.Data, nil
		}
		if err != nil {
			return nil, NewConnectionError("Queue connection dropped", err)
		}
	}
}
