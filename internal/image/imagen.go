package image

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dmorgan81/illustrate/internal/log"
	"github.com/samber/lo"
	"google.golang.org/genai"
)

const DefaultImagenModel = "imagen-3.0-generate-002"

// ImagenGenerator uses the Gemini API's dedicated image models through the
// official SDK.
type ImagenGenerator struct {
	client *genai.Client
	model  string
}

func NewImagenGenerator(ctx context.Context, client *http.Client, key, model, baseURL string) (*ImagenGenerator, error) {
	if key == "" {
		return nil, errors.New("imagen api key is required")
	}
	cfg := &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: client,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	c, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &ImagenGenerator{
		client: c,
		model:  lo.Ternary(model != "", model, DefaultImagenModel),
	}, nil
}

func (g *ImagenGenerator) Generate(ctx context.Context, params Params) ([]byte, error) {
	logger := log.FromContextOrDiscard(ctx).WithGroup("imagen").With("card", params.CardID, "model", g.model)
	logger.Info("generating image via imagen")

	resp, err := g.client.Models.GenerateImages(ctx, g.model, params.Prompt, &genai.GenerateImagesConfig{})
	if err != nil {
		return nil, classifyGenAI(err)
	}

	for _, img := range resp.GeneratedImages {
		if img == nil {
			continue
		}
		if img.Image != nil && len(img.Image.ImageBytes) > 0 {
			logger.Info("received image via imagen", "bytes", len(img.Image.ImageBytes))
			return img.Image.ImageBytes, nil
		}
		if img.RAIFilteredReason != "" {
			return nil, NewClientError(withDetail(MsgContentPolicy, img.RAIFilteredReason))
		}
	}
	return nil, NewClientError(MsgNoImageData)
}

func classifyGenAI(err error) *Error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return classifyAPIError(*apiErrPtr, err)
	}
	return classifyTransport(err)
}

func classifyAPIError(apiErr genai.APIError, err error) *Error {
	e := classifyCode(apiErr.Code, apiErr.Message, "")
	e.Err = err
	return e
}
