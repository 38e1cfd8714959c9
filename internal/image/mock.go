package image

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"image"
	"image/png"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/dmorgan81/illustrate/internal/log"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

//go:embed assets/placeholder.svg
var placeholderSVG string

type FailureMode string

const (
	FailureNone       FailureMode = "none"
	FailureConnection FailureMode = "connection"
	FailureTimeout    FailureMode = "timeout"
	FailureRateLimit  FailureMode = "ratelimit"
	FailureServer     FailureMode = "server"
	FailureRandom     FailureMode = "random"
)

const DefaultMockAttemptsBeforeSuccess = 3

var concreteFailures = []FailureMode{FailureConnection, FailureTimeout, FailureRateLimit, FailureServer}

func ParseFailureMode(s string) (FailureMode, error) {
	switch m := FailureMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return FailureNone, nil
	case FailureNone, FailureConnection, FailureTimeout, FailureRateLimit, FailureServer, FailureRandom:
		return m, nil
	default:
		return "", fmt.Errorf("unknown failure mode %q", s)
	}
}

type MockConfig struct {
	FailureMode              FailureMode
	FailureRate              float64
	MaxAttemptsBeforeSuccess int
}

type fingerprint struct {
	cardID int
	prompt string
}

// MockGenerator is an offline backend that returns a fixed placeholder PNG and
// can simulate provider failures per (card, prompt). Once a fingerprint has
// been attempted MaxAttemptsBeforeSuccess times it always succeeds, whatever
// the failure mode, so retry loops driven by it terminate.
type MockGenerator struct {
	mu       sync.Mutex
	config   MockConfig
	attempts map[fingerprint]int
	rnd      *rand.Rand
}

func NewMockGenerator(config MockConfig, rnd *rand.Rand) *MockGenerator {
	if config.FailureMode == "" {
		config.FailureMode = FailureNone
	}
	if config.MaxAttemptsBeforeSuccess < 1 {
		config.MaxAttemptsBeforeSuccess = DefaultMockAttemptsBeforeSuccess
	}
	config.FailureRate = min(max(config.FailureRate, 0), 1)
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &MockGenerator{
		config:   config,
		attempts: make(map[fingerprint]int),
		rnd:      rnd,
	}
}

func (g *MockGenerator) Generate(ctx context.Context, params Params) ([]byte, error) {
	logger := log.FromContextOrDiscard(ctx).WithGroup("mock").With("card", params.CardID)

	g.mu.Lock()
	key := fingerprint{params.CardID, params.Prompt}
	g.attempts[key]++
	attempt := g.attempts[key]
	failure := g.failureFor(attempt)
	g.mu.Unlock()

	if failure != FailureNone {
		logger.Info("simulating failure", "attempt", attempt, "mode", string(failure))
		return nil, simulatedError(failure)
	}

	img, err := Placeholder()
	if err != nil {
		return nil, NewUnknownError(err)
	}
	logger.Info("generated placeholder image", "attempt", attempt, "bytes", len(img))
	return img, nil
}

// failureFor decides the outcome of the given attempt; callers hold mu.
func (g *MockGenerator) failureFor(attempt int) FailureMode {
	if attempt >= g.config.MaxAttemptsBeforeSuccess {
		return FailureNone
	}
	switch g.config.FailureMode {
	case FailureNone:
		return FailureNone
	case FailureRandom:
		if g.rnd.Float64() >= g.config.FailureRate {
			return FailureNone
		}
		return concreteFailures[g.rnd.Intn(len(concreteFailures))]
	default:
		return g.config.FailureMode
	}
}

func (g *MockGenerator) SetMode(mode FailureMode, rate float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.config.FailureMode = mode
	g.config.FailureRate = min(max(rate, 0), 1)
}

func (g *MockGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	clear(g.attempts)
}

func (g *MockGenerator) Attempts(params Params) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempts[fingerprint{params.CardID, params.Prompt}]
}

func simulatedError(mode FailureMode) *Error {
	switch mode {
	case FailureConnection:
		return NewConnectionError("Simulated connection failure", nil)
	case FailureTimeout:
		return NewTimeoutError(30*time.Second, nil)
	case FailureRateLimit:
		return NewRateLimitError("Simulated rate limit", 0)
	default:
		return NewServerError("Simulated server error")
	}
}

var placeholder struct {
	once sync.Once
	data []byte
	err  error
}

// Placeholder renders the embedded placeholder artwork to PNG once.
func Placeholder() ([]byte, error) {
	placeholder.once.Do(func() {
		placeholder.data, placeholder.err = renderPlaceholder()
	})
	return placeholder.data, placeholder.err
}

func renderPlaceholder() ([]byte, error) {
	icon, err := oksvg.ReadIconStream(strings.NewReader(placeholderSVG))
	if err != nil {
		return nil, fmt.Errorf("parsing placeholder svg: %w", err)
	}
	w, h := int(icon.ViewBox.W), int(icon.ViewBox.H)
	icon.SetTarget(0, 0, float64(w), float64(h))

	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	scanner := rasterx.NewScannerGV(w, h, rgba, rgba.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1.0)

	var buf bytes.Buffer
	if err := png.Encode(&buf, rgba); err != nil {
		return nil, fmt.Errorf("encoding placeholder png: %w", err)
	}
	return buf.Bytes(), nil
}
