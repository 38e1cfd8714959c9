package image

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dmorgan81/illustrate/internal/log"
	"github.com/samber/lo"
)

const DefaultPollinationsBaseURL = "https://image.pollinations.ai"

type PollinationsGenerator struct {
	Client  *http.Client
	BaseURL string
	Model   string
	Width   int
	Height  int
}

func NewPollinationsGenerator(client *http.Client, baseURL, model string, width, height int) *PollinationsGenerator {
	return &PollinationsGenerator{
		Client:  client,
		BaseURL: strings.TrimRight(lo.Ternary(baseURL != "", baseURL, DefaultPollinationsBaseURL), "/"),
		Model:   model,
		Width:   lo.Ternary(width > 0, width, 1024),
		Height:  lo.Ternary(height > 0, height, 1024),
	}
}

func (g *PollinationsGenerator) Generate(ctx context.Context, params Params) ([]byte, error) {
	logger := log.FromContextOrDiscard(ctx).WithGroup("pollinations").With("card", params.CardID)
	logger.Info("generating image via pollinations")

	query := url.Values{}
	query.Set("width", strconv.Itoa(g.Width))
	query.Set("height", strconv.Itoa(g.Height))
	query.Set("nologo", "true")
	query.Set("seed", strconv.Itoa(rand.Intn(maxSeed)))
	if g.Model != "" {
		query.Set("model", g.Model)
	}
	endpoint := fmt.Sprintf("%s/prompt/%s?%s", g.BaseURL, url.PathEscape(params.Prompt), query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, NewClientError(fmt.Sprintf("Cannot build request: %v", err))
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, classifyStatus(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(err)
	}
	// a 200 with an empty body happens when the upstream model drops the request
	if len(data) == 0 {
		return nil, NewClientError(MsgNoImageData)
	}

	logger.Info("received image via pollinations", "bytes", len(data))
	return data, nil
}
