// Package httpclient is the only way the rest of storedash talks to the
// backend agents. It attaches the session token, tags each call with a
// request ID, and turns responses into a small error taxonomy.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/user/storedash/internal/agent"
	"github.com/user/storedash/internal/logger"
	"github.com/user/storedash/internal/metrics"
	"github.com/user/storedash/internal/types"
)

// DefaultTimeout bounds every call.
const DefaultTimeout = 30 * time.Second

const maxResponseBody = 32 << 20

// Request describes one outbound call.
type Request struct {
	Endpoint agent.Endpoint
	Query    url.Values
	// Body is JSON-encoded when non-nil.
	Body   any
	Header http.Header
}

// RawResponse receives an undecoded body. Pass a *RawResponse as out to Do
// for endpoints that do not answer JSON.
type RawResponse struct {
	Status      int
	ContentType string
	Body        []byte
}

// Client sends requests to the agents in a registry.
type Client struct {
	registry *agent.Registry
	tokens   types.TokenSource
	http     *http.Client
	timeout  time.Duration
	limiters map[types.AgentName]*rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit caps outbound calls per agent at rps requests per second.
// A zero rps leaves calls unlimited.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiters = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiters = make(map[types.AgentName]*rate.Limiter)
		for _, name := range types.AgentNames() {
			c.limiters[name] = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// New creates a Client. tokens may be nil, in which case no call carries a
// bearer token.
func New(registry *agent.Registry, tokens types.TokenSource, opts ...Option) *Client {
	c := &Client{
		registry: registry,
		tokens:   tokens,
		http:     &http.Client{},
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithTokens returns a client that attaches tokens from ts instead. The copy
// shares the transport, timeout and per-agent rate limiters of c.
func (c *Client) WithTokens(ts types.TokenSource) *Client {
	cp := *c
	cp.tokens = ts
	return &cp
}

// Registry returns the registry the client resolves agents against.
func (c *Client) Registry() *agent.Registry {
	return c.registry
}

// Do sends req and decodes a 2xx JSON body into out (nil discards it). A
// 401 from a bearer endpoint clears the session and yields ErrAuthRequired;
// a 422 yields a *ValidationError; everything else that is not 2xx,
// including a 401 from a public endpoint, yields a *NetworkError.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	start := time.Now()
	err := c.do(ctx, req, out)
	elapsed := time.Since(start)

	name := string(req.Endpoint.Agent)
	outcome := Outcome(err)
	metrics.OutboundDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	metrics.OutboundRequests.WithLabelValues(name, outcome).Inc()

	logger.FromContext(ctx).Debug("agent call",
		"endpoint", req.Endpoint.String(),
		"outcome", outcome,
		"duration", elapsed.Round(time.Millisecond),
	)
	return err
}

func (c *Client) do(ctx context.Context, req Request, out any) error {
	ep := req.Endpoint
	u, err := c.registry.URL(ep.Agent, ep.Path)
	if err != nil {
		return err
	}
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	if lim := c.limiters[ep.Agent]; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return &NetworkError{Agent: ep.Agent, Kind: KindTransport, Err: fmt.Errorf("wait for rate limiter: %w", err)}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", ep.Agent, err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, ep.Method, u, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", ep.Agent, err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	reqID := logger.GetRequestID(ctx)
	if reqID == "" {
		reqID = string(types.NewRequestID())
	}
	httpReq.Header.Set("X-Request-ID", reqID)
	if ep.Auth == agent.AuthBearer && c.tokens != nil {
		if tok, ok := c.tokens.Token(); ok {
			httpReq.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return transportError(ep.Agent, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return transportError(ep.Agent, fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized && ep.Auth == agent.AuthBearer:
		c.dropSession(ctx, ep)
		return fmt.Errorf("%s: %w", ep, ErrAuthRequired)
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return &ValidationError{Agent: ep.Agent, Detail: detailOr(respBody, resp.Status)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &NetworkError{
			Agent:   ep.Agent,
			Kind:    KindStatus,
			Status:  resp.StatusCode,
			Message: agent.ErrorDetail(respBody),
		}
	}

	if out == nil {
		return nil
	}
	if raw, ok := out.(*RawResponse); ok {
		raw.Status = resp.StatusCode
		raw.ContentType = resp.Header.Get("Content-Type")
		raw.Body = respBody
		return nil
	}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &NetworkError{Agent: ep.Agent, Kind: KindDecode, Status: resp.StatusCode, Err: err}
	}
	return nil
}

// dropSession clears the session after the backend rejected the token.
func (c *Client) dropSession(ctx context.Context, ep agent.Endpoint) {
	log := logger.FromContext(ctx)
	log.Warn("agent rejected session, logging out", "endpoint", ep.String())
	metrics.SessionTeardowns.WithLabelValues("auth_failure").Inc()
	if c.tokens == nil {
		return
	}
	if err := c.tokens.Logout(); err != nil {
		log.Error("failed to clear session", "error", err)
	}
}

func transportError(name types.AgentName, err error) error {
	kind := KindTransport
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &NetworkError{Agent: name, Kind: kind, Err: err}
}

func detailOr(body []byte, fallback string) string {
	if d := agent.ErrorDetail(body); d != "" {
		return d
	}
	return fallback
}
