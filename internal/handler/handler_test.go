package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmorgan81/illustrate/internal/image"
	"github.com/dmorgan81/illustrate/internal/metrics"
	"github.com/dmorgan81/illustrate/internal/prompt"
	"github.com/dmorgan81/illustrate/internal/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newBuilder(t *testing.T) *prompt.Builder {
	t.Helper()
	b, err := prompt.New("{{.Question}} {{.Answer}}", 0)
	require.NoError(t, err)
	return b
}

func TestGenerateImageMock(t *testing.T) {
	dir := t.TempDir()
	mock := image.NewMockGenerator(image.MockConfig{FailureMode: image.FailureConnection, MaxAttemptsBeforeSuccess: 3}, nil)
	m := metrics.New()
	h := New("mock", newBuilder(t), image.NewRetrier(mock, image.DefaultRetryConfig(), image.WithSleeper(noSleep)), &store.FileUploader{}, m)

	res := h.GenerateImage(context.Background(), 7, "Q", "A", dir)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, filepath.Join(dir, "card-007.png"), res.ImagePath)
	assert.Empty(t, res.Error)

	info, err := os.Stat(res.ImagePath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
	assert.Equal(t, 3, mock.Attempts(image.Params{CardID: 7, Prompt: "Q A"}))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cards.WithLabelValues("mock", "success")))
}

func TestGenerateImageInvalidKey(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"API key not valid"}}`))
	}))
	t.Cleanup(srv.Close)

	gen, err := image.NewGeminiGenerator(srv.Client(), "bad-key", "", srv.URL)
	require.NoError(t, err)
	dir := t.TempDir()
	h := New("gemini", newBuilder(t), image.NewRetrier(gen, image.DefaultRetryConfig(), image.WithSleeper(noSleep)), &store.FileUploader{}, nil)

	res := h.GenerateImage(context.Background(), 7, "Q", "A", dir)
	assert.Equal(t, Result{CardID: 7, Success: false, Error: "Invalid API key"}, res)
	assert.Equal(t, int32(1), hits.Load())
	assert.NoFileExists(t, filepath.Join(dir, "card-007.png"))
}

type panicking struct{}

func (panicking) Generate(context.Context, image.Params) ([]byte, error) {
	panic("backend exploded")
}

func TestGenerateImageRecoversPanic(t *testing.T) {
	m := metrics.New()
	h := New("mock", newBuilder(t), panicking{}, &store.FileUploader{}, m)

	res := h.GenerateImage(context.Background(), 2, "Q", "A", t.TempDir())
	assert.False(t, res.Success)
	assert.Equal(t, 2, res.CardID)
	assert.Contains(t, res.Error, "backend exploded")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cards.WithLabelValues("mock", "failure")))
}

type failingUploader struct{}

func (failingUploader) Upload(context.Context, store.UploadParams) error {
	return errors.New("disk full")
}

func TestGenerateImageUploadFailure(t *testing.T) {
	h := New("mock", newBuilder(t), image.NewMockGenerator(image.MockConfig{}, nil), failingUploader{}, nil)

	res := h.GenerateImage(context.Background(), 1, "Q", "A", t.TempDir())
	assert.False(t, res.Success)
	assert.Equal(t, "saving image: disk full", res.Error)
	assert.Empty(t, res.ImagePath)
}

type erroring struct{ err error }

func (e erroring) Generate(context.Context, image.Params) ([]byte, error) {
	return nil, e.err
}

func TestGenerateImageBlankErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"empty taxonomy message", &image.Error{Kind: image.KindServer}, unknownError},
		{"empty message with cause", &image.Error{Kind: image.KindServer, Err: errors.New("eof")}, "eof"},
		{"empty plain error", errors.New(""), unknownError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New("mock", newBuilder(t), erroring{tt.err}, &store.FileUploader{}, nil)

			res := h.GenerateImage(context.Background(), 5, "Q", "A", t.TempDir())
			assert.False(t, res.Success)
			assert.Empty(t, res.ImagePath)
			assert.Equal(t, tt.want, res.Error)
		})
	}
}

func TestGenerateImageEmptyCard(t *testing.T) {
	mock := image.NewMockGenerator(image.MockConfig{}, nil)
	h := New("mock", newBuilder(t), mock, &store.FileUploader{}, nil)

	res := h.GenerateImage(context.Background(), 1, "", " ", t.TempDir())
	assert.False(t, res.Success)
	assert.Equal(t, prompt.ErrEmptyCard.Error(), res.Error)
	assert.Zero(t, mock.Attempts(image.Params{CardID: 1, Prompt: ""}))
}

func TestMode(t *testing.T) {
	h := New("pollinations", newBuilder(t), nil, nil, nil)
	assert.Equal(t, "pollinations", h.Mode())
}

func TestResultJSON(t *testing.T) {
	data, err := json.Marshal(Result{CardID: 3, Success: true, ImagePath: "out/card-003.png"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"cardId":3,"success":true,"imagePath":"out/card-003.png"}`, string(data))

	data, err = json.Marshal(Result{CardID: 4, Error: "Quota exceeded"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"cardId":4,"success":false,"error":"Quota exceeded"}`, string(data))
}
