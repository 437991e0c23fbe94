// Package client holds the HTTP clients of the external collaborators:
// settlement node, payment gateway, notifications and user stats.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

var (
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrBadGateway   = errors.New("bad gateway")
)

// IsUnrecoverable reports whether retrying the call cannot succeed.
func IsUnrecoverable(err error) bool {
	return errors.Is(err, ErrBadRequest) || errors.Is(err, ErrNotFound)
}

// StatusError carries the response of a failed call.
type StatusError struct {
	Op     string
	Status int
	Body   string
	kind   error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return e.kind }

func statusError(op string, status int, body []byte) error {
	var kind error
	switch {
	case status == http.StatusBadRequest:
		kind = ErrBadRequest
	case status == http.StatusUnauthorized:
		kind = ErrUnauthorized
	case status == http.StatusNotFound:
		kind = ErrNotFound
	case status >= 500:
		kind = ErrBadGateway
	}
	return &StatusError{Op: op, Status: status, Body: strings.TrimSpace(string(body)), kind: kind}
}

type Config struct {
	URI            string        `yaml:"uri"`
	APIKey         string        `yaml:"apiKey"`
	ConnectTimeout time.Duration `yaml:"connectTimeout"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
}

type base struct {
	uri    string
	apiKey string
	hc     *http.Client
}

func newBase(cfg Config) base {
	connect := cfg.ConnectTimeout
	if connect <= 0 {
		connect = 5 * time.Second
	}
	read := cfg.ReadTimeout
	if read <= 0 {
		read = 10 * time.Second
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: connect}).DialContext,
		TLSHandshakeTimeout:   connect,
		ResponseHeaderTimeout: read,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
	return base{
		uri:    strings.TrimRight(cfg.URI, "/"),
		apiKey: cfg.APIKey,
		hc:     &http.Client{Transport: transport, Timeout: connect + read},
	}
}

// do sends in as JSON (when not nil) and decodes a 2xx body into out (when not nil).
func (b base) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.uri+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.apiKey != "" {
		req.Header.Set("x-api-key", b.apiKey)
	}
	resp, err := b.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return statusError(op, resp.StatusCode, raw)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
