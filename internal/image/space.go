package image

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dmorgan81/illustrate/internal/log"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

const (
	DefaultHubURL   = "https://huggingface.co"
	defaultEndpoint = "/predict"
	maxSeed         = math.MaxInt32
)

// endpointPreference orders the substrings used to pick a space's callable
// endpoint when it exposes several.
var endpointPreference = []string{"predict", "generate", "run", "infer"}

var quotaWaitRegexp = regexp.MustCompile(`(?i)retry in (\d+):(\d{2}):(\d{2})`)

type SpaceOptions struct {
	Space          string
	Token          string
	HubURL         string
	NegativePrompt string
	Width          int
	Height         int
	Guidance       float64
}

// SpaceGenerator calls a hosted Gradio space. The connection (resolved host,
// protocol, endpoint) is discovered on first use and reused until Close or a
// connection-class failure drops it.
type SpaceGenerator struct {
	client *http.Client
	dialer *websocket.Dialer
	opts   SpaceOptions
	seed   func() int

	mu   sync.Mutex
	conn *spaceConn
}

type spaceConn struct {
	root     string
	prefix   string
	protocol string
	endpoint string
	fnIndex  int
	header   http.Header
}

type spaceConfig struct {
	Protocol     string `json:"protocol"`
	APIPrefix    string `json:"api_prefix"`
	Dependencies []struct {
		ID      *int `json:"id"`
		APIName any  `json:"api_name"`
	} `json:"dependencies"`
}

func NewSpaceGenerator(client *http.Client, opts SpaceOptions) (*SpaceGenerator, error) {
	if opts.Space == "" {
		return nil, errors.New("space name is required")
	}
	opts.HubURL = strings.TrimRight(lo.Ternary(opts.HubURL != "", opts.HubURL, DefaultHubURL), "/")
	opts.Width = lo.Ternary(opts.Width > 0, opts.Width, 1024)
	opts.Height = lo.Ternary(opts.Height > 0, opts.Height, 1024)
	opts.Guidance = lo.Ternary(opts.Guidance > 0, opts.Guidance, 7.5)

	return &SpaceGenerator{
		client: client,
		dialer: &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: 30 * time.Second},
		opts:   opts,
		seed:   func() int { return rand.Intn(maxSeed) },
	}, nil
}

func (g *SpaceGenerator) Generate(ctx context.Context, params Params) ([]byte, error) {
	logger := log.FromContextOrDiscard(ctx).WithGroup("space").With("card", params.CardID, "space", g.opts.Space)

	conn, err := g.connect(ctx)
	if err != nil {
		return nil, err
	}
	logger = logger.With("endpoint", conn.endpoint, "protocol", conn.protocol)
	logger.Info("generating image via space")

	args := g.arguments(params.Prompt)
	var output []any
	if strings.HasPrefix(conn.protocol, "ws") {
		output, err = g.callWebsocket(ctx, conn, args)
	} else {
		output, err = g.callSSE(ctx, conn, args)
	}
	if err != nil {
		if e := Classify(err); e.Kind == KindConnection {
			g.drop(conn)
		}
		return nil, err
	}

	ref, ok := conn.extract(output)
	if !ok {
		return nil, NewClientError(MsgNoImageData)
	}
	if ref.data != nil {
		logger.Info("received inline image via space", "bytes", len(ref.data))
		return ref.data, nil
	}

	logger.Info("downloading image from space", "url", ref.url)
	return download(ctx, g.client, ref.url, conn.headerFor(ref.url))
}

// Close disposes the cached connection; the next Generate reconnects.
func (g *SpaceGenerator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conn = nil
	return nil
}

func (g *SpaceGenerator) drop(conn *spaceConn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == conn {
		g.conn = nil
	}
}

func (g *SpaceGenerator) arguments(prompt string) []any {
	return []any{
		prompt,
		g.opts.NegativePrompt,
		g.opts.NegativePrompt != "",
		g.seed(),
		g.opts.Width,
		g.opts.Height,
		g.opts.Guidance,
		true,
	}
}

func (g *SpaceGenerator) connect(ctx context.Context) (*spaceConn, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn != nil {
		return g.conn, nil
	}

	logger := log.FromContextOrDiscard(ctx).WithGroup("space").With("space", g.opts.Space)
	logger.Info("connecting to space")

	header := http.Header{}
	if g.opts.Token != "" {
		header.Set("Authorization", "Bearer "+g.opts.Token)
	}

	root, err := g.resolve(ctx, header)
	if err != nil {
		return nil, err
	}

	var cfg spaceConfig
	if err := g.getJSON(ctx, root+"/config", header, &cfg); err != nil {
		return nil, err
	}

	conn := &spaceConn{
		root:     root,
		prefix:   strings.TrimRight(cfg.APIPrefix, "/"),
		protocol: lo.Ternary(cfg.Protocol != "", cfg.Protocol, "sse_v3"),
		header:   header,
	}
	conn.endpoint = g.discover(ctx, conn)
	conn.fnIndex = cfg.fnIndex(conn.endpoint)

	logger.Info("connected to space", "root", root, "endpoint", conn.endpoint, "protocol", conn.protocol)
	g.conn = conn
	return conn, nil
}

func (g *SpaceGenerator) resolve(ctx context.Context, header http.Header) (string, error) {
	if strings.HasPrefix(g.opts.Space, "http://") || strings.HasPrefix(g.opts.Space, "https://") {
		return strings.TrimRight(g.opts.Space, "/"), nil
	}

	var host struct {
		Host string `json:"host"`
	}
	endpoint := fmt.Sprintf("%s/api/spaces/%s/host", g.opts.HubURL, g.opts.Space)
	if err := g.getJSON(ctx, endpoint, header, &host); err != nil {
		var status statusError
		if errors.As(err, &status) && int(status) == http.StatusNotFound {
			return "", NewClientError(withDetail(MsgSpaceNotFound, g.opts.Space))
		}
		return "", err
	}
	if host.Host == "" {
		return "", NewClientError(withDetail(MsgSpaceNotFound, g.opts.Space))
	}
	return strings.TrimRight(host.Host, "/"), nil
}

// discover picks the endpoint to call from the space's named endpoints,
// falling back to /predict when the listing is unavailable.
func (g *SpaceGenerator) discover(ctx context.Context, conn *spaceConn) string {
	var info struct {
		NamedEndpoints map[string]json.RawMessage `json:"named_endpoints"`
	}
	if err := g.getJSON(ctx, conn.root+conn.prefix+"/info", conn.header, &info); err != nil {
		log.FromContextOrDiscard(ctx).Warn("endpoint discovery failed", "error", err)
		return defaultEndpoint
	}
	return pickEndpoint(lo.Keys(info.NamedEndpoints))
}

func pickEndpoint(names []string) string {
	if len(names) == 0 {
		return defaultEndpoint
	}
	sort.Strings(names)
	for _, want := range endpointPreference {
		for _, name := range names {
			if strings.Contains(strings.ToLower(name), want) {
				return name
			}
		}
	}
	return names[0]
}

func (c spaceConfig) fnIndex(endpoint string) int {
	for i, dep := range c.Dependencies {
		name, ok := dep.APIName.(string)
		if !ok || "/"+strings.TrimLeft(name, "/") != endpoint {
			continue
		}
		if dep.ID != nil {
			return *dep.ID
		}
		return i
	}
	return 0
}

func (g *SpaceGenerator) getJSON(ctx context.Context, endpoint string, header http.Header, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return NewClientError(fmt.Sprintf("Cannot build request: %v", err))
	}
	req.Header = header.Clone()
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return classifySpaceStatus(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return NewServerError(fmt.Sprintf("Malformed response from %s: %v", endpoint, err))
	}
	return nil
}

// classifySpaceStatus treats sleeping or rebuilding spaces as unreachable
// rather than broken; they come back on their own.
func classifySpaceStatus(resp *http.Response) *Error {
	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return NewConnectionError(MsgSpaceNotLoaded, statusError(resp.StatusCode))
	}
	return classifyStatus(resp)
}

type statusError int

func (s statusError) Error() string {
	return fmt.Sprintf("status %d", int(s))
}

// spaceErrorMessage reads an error event payload: a JSON string or an error object.
func spaceErrorMessage(data string) string {
	var msg string
	if err := json.Unmarshal([]byte(data), &msg); err == nil && msg != "" {
		return msg
	}
	return providerMessage([]byte(data))
}

// classifySpaceMessage classifies an error reported by the space itself.
func classifySpaceMessage(msg string) *Error {
	lower := strings.ToLower(msg)
	switch {
	case msg == "":
		return NewServerError("Space reported an error")
	case containsAny(lower, "queue is full", "queue full", "capacity", "too busy", "sleeping", "paused"):
		return NewConnectionError(withDetail(MsgSpaceBusy, msg), nil)
	case containsAny(lower, "nsfw", "policy", "safety", "inappropriate"):
		return NewClientError(withDetail(MsgContentPolicy, msg))
	case strings.Contains(lower, "quota"):
		return NewRateLimitError(msg, parseQuotaWait(msg))
	default:
		return NewServerError(msg)
	}
}

func parseQuotaWait(msg string) time.Duration {
	m := quotaWaitRegexp.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	h, _ := strconv.Atoi(m[1])
	m2, _ := strconv.Atoi(m[2])
	s, _ := strconv.Atoi(m[3])
	return time.Duration(h)*time.Hour + time.Duration(m2)*time.Minute + time.Duration(s)*time.Second
}

func containsAny(s string, subs ...string) bool {
	return lo.SomeBy(subs, func(sub string) bool { return strings.Contains(s, sub) })
}

// headerFor only forwards credentials to the space's own origin.
func (c *spaceConn) headerFor(target string) http.Header {
	u, err := url.Parse(target)
	root, rerr := url.Parse(c.root)
	if err != nil || rerr != nil || u.Host != root.Host {
		return nil
	}
	return c.header
}
