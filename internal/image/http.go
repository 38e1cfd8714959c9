package image

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxErrorBody caps how much of an error response is read for its message.
const maxErrorBody = 64 << 10

func classifyTransport(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(0, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTimeoutError(0, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return NewConnectionError(fmt.Sprintf("Cannot resolve %s", dnsErr.Name), err)
	}
	return NewConnectionError(fmt.Sprintf("Connection failed: %v", err), err)
}

// classifyStatus maps a non-2xx response onto the shared taxonomy.
func classifyStatus(resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return classifyCode(resp.StatusCode, providerMessage(body), resp.Header.Get("Retry-After"))
}

func classifyCode(code int, message, retryAfter string) *Error {
	switch {
	case code == http.StatusUnauthorized:
		return NewClientError(MsgInvalidAPIKey)
	case code == http.StatusForbidden:
		return NewClientError(MsgQuotaExceeded)
	case code == http.StatusTooManyRequests:
		return NewRateLimitError(MsgRateLimited, parseRetryAfter(retryAfter, time.Now()))
	case code >= 500:
		return NewServerError(withDetail(fmt.Sprintf("Server error (%d)", code), message))
	default:
		return NewClientError(withDetail(fmt.Sprintf("Request failed (%d)", code), message))
	}
}

func withDetail(msg, detail string) string {
	if detail == "" {
		return msg
	}
	return msg + ": " + detail
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// providerMessage pulls a human readable message out of the usual JSON error
// envelopes, falling back to the first line of a text body.
func providerMessage(body []byte) string {
	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Detail  string          `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		var nested struct {
			Message string `json:"message"`
		}
		var flat string
		switch {
		case json.Unmarshal(envelope.Error, &nested) == nil && nested.Message != "":
			return nested.Message
		case json.Unmarshal(envelope.Error, &flat) == nil && flat != "":
			return flat
		case envelope.Message != "":
			return envelope.Message
		case envelope.Detail != "":
			return envelope.Detail
		}
		return ""
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(body)), "\n")
	if len(line) > 200 {
		line = line[:200]
	}
	return line
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

// download fetches a referenced image, applying the same classification as
// the backends' primary requests.
func download(ctx context.Context, client *http.Client, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, NewClientError(fmt.Sprintf("Invalid image URL: %v", err))
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
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
	if len(data) == 0 {
		return nil, NewClientError(MsgNoImageData)
	}
	return data, nil
}
