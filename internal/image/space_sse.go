package image

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dmorgan81/illustrate/internal/log"
)

// maxEventSize bounds a single SSE line; completed events can carry inline
// base64 images.
const maxEventSize = 32 << 20

func (g *SpaceGenerator) callSSE(ctx context.Context, conn *spaceConn, args []any) ([]any, error) {
	logger := log.FromContextOrDiscard(ctx).WithGroup("space")
	callURL := conn.root + conn.prefix + "/call" + conn.endpoint

	body, err := json.Marshal(map[string]any{"data": args})
	if err != nil {
		return nil, NewClientError(fmt.Sprintf("Cannot encode request: %v", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callURL, bytes.NewReader(body))
	if err != nil {
		return nil, NewClientError(fmt.Sprintf("Cannot build request: %v", err))
	}
	req.Header = conn.header.Clone()
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	var queued queuedCall
	err = decodeQueued(resp, &queued)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	logger.Debug("queued space call", "event", queued.EventID)

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, callURL+"/"+queued.EventID, nil)
	if err != nil {
		return nil, NewClientError(fmt.Sprintf("Cannot build request: %v", err))
	}
	req.Header = conn.header.Clone()
	req.Header.Set("Accept", "text/event-stream")

	resp, err = g.client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()
	if !isSuccess(resp.StatusCode) {
		return nil, classifySpaceStatus(resp)
	}

	return readEvents(ctx, resp.Body)
}

type queuedCall struct {
	EventID string `json:"event_id"`
}

func decodeQueued(resp *http.Response, v *queuedCall) error {
	if !isSuccess(resp.StatusCode) {
		return classifySpaceStatus(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return NewServerError(fmt.Sprintf("Malformed queue response: %v", err))
	}
	if v.EventID == "" {
		return NewServerError("Space did not return an event id")
	}
	return nil
}

// readEvents consumes the stream until the call completes or fails.
func readEvents(ctx context.Context, r io.Reader) ([]any, error) {
	logger := log.FromContextOrDiscard(ctx).WithGroup("space")

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxEventSize)

	var event string
	var data strings.Builder
	dispatch := func() ([]any, bool, error) {
		defer func() {
			event = ""
			data.Reset()
		}()
		switch event {
		case "complete":
			var output []any
			if err := json.Unmarshal([]byte(data.String()), &output); err != nil {
				return nil, true, NewServerError(fmt.Sprintf("Malformed completion: %v", err))
			}
			return output, true, nil
		case "error":
			return nil, true, classifySpaceMessage(spaceErrorMessage(data.String()))
		case "generating", "heartbeat", "":
			return nil, false, nil
		default:
			logger.Debug("ignoring space event", "event", event)
			return nil, false, nil
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if output, done, err := dispatch(); done {
				return output, err
			}
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, classifyTransport(err)
	}
	if output, done, err := dispatch(); done {
		return output, err
	}
	return nil, NewConnectionError("Space closed the stream before completing", io.ErrUnexpectedEOF)
}
