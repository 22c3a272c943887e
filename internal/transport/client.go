// File: internal/transport/client.go
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/diligence-cli/api/schemas"
	"github.com/xkilldash9x/diligence-cli/internal/config"
)

// Constants for default optimized TCP/HTTP settings. Values are tuned for a
// small number of long-running analysis calls rather than high fan-out.
const (
	defaultDialTimeout           = 5 * time.Second
	defaultKeepAliveInterval     = 15 * time.Second
	defaultTLSHandshakeTimeout   = 5 * time.Second
	defaultResponseHeaderTimeout = 60 * time.Second

	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 30 * time.Second
)

// ErrInvalidRequest marks caller errors rejected before any network call is
// attempted: an empty query or an agent ID outside the registry.
var ErrInvalidRequest = errors.New("invalid request")

// KnownAgentFunc reports whether a remote agent ID is present in the static
// registry. A nil func disables the membership check (used by tests).
type KnownAgentFunc func(id schemas.AgentID) bool

// Outcome is the result of one round trip to the agent-execution endpoint.
// Transport failures (timeout, refused connection, non-2xx status) are folded
// into the value rather than returned as errors, so the orchestrator's
// control flow stays linear: OK is false and Reason carries a renderable
// message. Body holds the raw response payload when OK is true.
type Outcome struct {
	OK         bool
	StatusCode int
	Body       []byte
	Reason     string
}

// Client issues requests to the remote agent-execution and asset-upload
// endpoints. It knows nothing about agent semantics: payloads pass through
// as raw bytes for the normalizer to interpret.
//
// The client performs exactly one outbound request per call. Retry and
// backoff policy belongs to the orchestrator, where it can differ per agent
// type.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	limiter *rate.Limiter
	known   KnownAgentFunc
	logger  *zap.Logger
}

// New creates a transport client from configuration.
func New(cfg config.TransportConfig, known KnownAgentFunc, logger *zap.Logger) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("transport.base_url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("transport.base_url is not a valid URL: %w", err)
	}

	dialer := &net.Dialer{
		Timeout:   defaultDialTimeout,
		KeepAlive: defaultKeepAliveInterval,
	}
	tr := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
	}
	if cfg.IgnoreTLSErrors {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- operator opt-in for lab endpoints
	}
	if cfg.ForceHTTP2 {
		if err := http2.ConfigureTransport(tr); err != nil {
			return nil, fmt.Errorf("failed to configure http2 transport: %w", err)
		}
	}

	return &Client{
		http: &http.Client{
			Transport: tr,
			Timeout:   cfg.RequestTimeout,
		},
		baseURL: base,
		apiKey:  cfg.APIKey,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		known:   known,
		logger:  logger.Named("transport"),
	}, nil
}

// InvokeAgent sends one query to the given agent. The returned error is
// non-nil only for caller mistakes (ErrInvalidRequest); every transport-level
// failure is reported through the Outcome value.
func (c *Client) InvokeAgent(ctx context.Context, query string, agentID schemas.AgentID) (Outcome, error) {
	if strings.TrimSpace(query) == "" {
		return Outcome{}, fmt.Errorf("%w: query must not be empty", ErrInvalidRequest)
	}
	if c.known != nil && !c.known(agentID) {
		return Outcome{}, fmt.Errorf("%w: unknown agent id %q", ErrInvalidRequest, agentID)
	}

	body, err := json.Marshal(schemas.AgentRequest{Query: query, AgentID: agentID})
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to encode agent request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/agents/%s/invoke", c.baseURL, url.PathEscape(string(agentID)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to build agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	return c.do(ctx, req), nil
}

// UploadBatch submits the files as one multipart request to the upload
// endpoint. A transport-level failure of the whole batch is returned as an
// error; the upload coordinator absorbs it into per-file failures.
func (c *Client) UploadBatch(ctx context.Context, files []schemas.FileHandle) (schemas.RawUploadResponse, error) {
	if len(files) == 0 {
		return schemas.RawUploadResponse{}, fmt.Errorf("%w: no files to upload", ErrInvalidRequest)
	}

	// Stream the multipart body so large documents never sit fully in memory.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		var werr error
		defer func() {
			if cerr := mw.Close(); werr == nil {
				werr = cerr
			}
			pw.CloseWithError(werr)
		}()
		for _, f := range files {
			part, err := mw.CreateFormFile("files", f.Name)
			if err != nil {
				werr = fmt.Errorf("failed to create form part for %s: %w", f.Name, err)
				return
			}
			if _, err := io.Copy(part, f.Content); err != nil {
				werr = fmt.Errorf("failed to stream %s: %w", f.Name, err)
				return
			}
		}
	}()

	endpoint := c.baseURL + "/assets/upload"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		return schemas.RawUploadResponse{}, fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	outcome := c.do(ctx, req)
	if !outcome.OK {
		return schemas.RawUploadResponse{}, fmt.Errorf("upload failed: %s", outcome.Reason)
	}

	var raw schemas.RawUploadResponse
	if err := json.Unmarshal(outcome.Body, &raw); err != nil {
		return schemas.RawUploadResponse{}, fmt.Errorf("failed to decode upload response: %w", err)
	}
	return raw, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// do executes a single request, folding every failure mode into an Outcome.
func (c *Client) do(ctx context.Context, req *http.Request) Outcome {
	if err := c.limiter.Wait(ctx); err != nil {
		return Outcome{Reason: fmt.Sprintf("request aborted before dispatch: %v", err)}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("Endpoint unreachable",
			zap.String("url", req.URL.Path),
			zap.Error(err),
		)
		return Outcome{Reason: describeFailure(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{StatusCode: resp.StatusCode, Reason: fmt.Sprintf("failed to read response body: %v", err)}
	}

	c.logger.Debug("Request completed",
		zap.String("url", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Outcome{
			StatusCode: resp.StatusCode,
			Reason:     fmt.Sprintf("endpoint returned HTTP %d", resp.StatusCode),
		}
	}
	return Outcome{OK: true, StatusCode: resp.StatusCode, Body: body}
}

// describeFailure turns low-level transport errors into messages fit for the
// UI: the normalizer passes them through verbatim.
func describeFailure(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out waiting for the analysis endpoint"
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "request timed out waiting for the analysis endpoint"
	}
	return fmt.Sprintf("could not reach the analysis endpoint: %v", err)
}
