package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/dmorgan81/illustrate/internal/log"
	"github.com/samber/lo"
)

const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel   = "gemini-2.5-flash-image"
)

var blockedFinishReasons = []string{"SAFETY", "PROHIBITED_CONTENT", "IMAGE_SAFETY", "BLOCKLIST", "SPII"}

type GeminiGenerator struct {
	Client  *http.Client
	Key     string
	Model   string
	BaseURL string
}

func NewGeminiGenerator(client *http.Client, key, model, baseURL string) (*GeminiGenerator, error) {
	if key == "" {
		return nil, errors.New("gemini api key is required")
	}
	return &GeminiGenerator{
		Client:  client,
		Key:     key,
		Model:   lo.Ternary(model != "", model, DefaultGeminiModel),
		BaseURL: strings.TrimRight(lo.Ternary(baseURL != "", baseURL, DefaultGeminiBaseURL), "/"),
	}, nil
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		ResponseModalities []string `json:"responseModalities"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func (g *GeminiGenerator) Generate(ctx context.Context, params Params) ([]byte, error) {
	logger := log.FromContextOrDiscard(ctx).WithGroup("gemini").With("card", params.CardID, "model", g.Model)
	logger.Info("generating image via gemini")

	var body geminiRequest
	body.Contents = []geminiContent{{Parts: []geminiPart{{Text: params.Prompt}}}}
	body.GenerationConfig.ResponseModalities = []string{"TEXT", "IMAGE"}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, NewClientError(fmt.Sprintf("Cannot encode request: %v", err))
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.BaseURL, url.PathEscape(g.Model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, NewClientError(fmt.Sprintf("Cannot build request: %v", err))
	}
	req.URL.RawQuery = url.Values{"key": {g.Key}}.Encode()
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, classifyTransport(redactURL(err, endpoint))
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, classifyStatus(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(err)
	}

	if isRawImage(resp.Header.Get("Content-Type"), raw) {
		if len(raw) == 0 {
			return nil, NewClientError(MsgNoImageData)
		}
		logger.Info("received raw image via gemini", "bytes", len(raw))
		return raw, nil
	}

	img, err := parseGeminiResponse(raw)
	if err != nil {
		return nil, err
	}
	logger.Info("received image via gemini", "bytes", len(img))
	return img, nil
}

// isRawImage trusts an image/* or JSON content type and sniffs the body otherwise.
func isRawImage(contentType string, raw []byte) bool {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return true
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		return false
	}
	return len(raw) > 0 && strings.HasPrefix(http.DetectContentType(raw), "image/")
}

// redactURL swaps the keyed request URL in a transport error for the bare endpoint.
func redactURL(err error, endpoint string) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		urlErr.URL = endpoint
	}
	return err
}

func parseGeminiResponse(raw []byte) ([]byte, error) {
	var resp geminiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, NewServerError(fmt.Sprintf("Malformed response: %v", err))
	}
	if resp.PromptFeedback.BlockReason != "" {
		return nil, NewClientError(withDetail(MsgContentPolicy, resp.PromptFeedback.BlockReason))
	}

	for _, c := range resp.Candidates {
		for _, p := range c.Content.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			if p.InlineData.MimeType != "" && !strings.HasPrefix(p.InlineData.MimeType, "image/") {
				continue
			}
			img, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return nil, NewServerError(fmt.Sprintf("Malformed image payload: %v", err))
			}
			if len(img) > 0 {
				return img, nil
			}
		}
	}

	for _, c := range resp.Candidates {
		if lo.Contains(blockedFinishReasons, c.FinishReason) {
			return nil, NewClientError(withDetail(MsgContentPolicy, c.FinishReason))
		}
	}
	return nil, NewClientError(MsgNoImageData)
}
