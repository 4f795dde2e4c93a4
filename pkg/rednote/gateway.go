package rednote

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/baohengtao/redbook/pkg/config"
	errs "github.com/baohengtao/redbook/pkg/errors"
	"github.com/baohengtao/redbook/pkg/logger"
	"github.com/baohengtao/redbook/pkg/metrics"
	"github.com/baohengtao/redbook/pkg/pacer"
	"github.com/baohengtao/redbook/pkg/retry"
	"github.com/baohengtao/redbook/pkg/signer"
)

// StatusHardBlock is the platform's non-standard status code for a flagged
// session. Retrying after one of these digs the hole deeper, so it aborts
// the crawl immediately.
const StatusHardBlock = 461

// envelope is the outer JSON shape of every edith API response
type envelope struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
}

// Gateway performs paced, signed HTTP requests against the platform and
// classifies failures. All API traffic funnels through one Gateway so the
// pacer sees every request.
type Gateway struct {
	httpClient *http.Client
	signer     *signer.Signer
	pacer      pacer.Pacer
	retryCfg   config.RetryConfig
	apiBase    string
	logger     logger.Logger
}

// NewGateway creates a Gateway. The pacer is shared across page and API
// fetches; pass the same instance everywhere.
func NewGateway(sg *signer.Signer, pc pacer.Pacer, retryCfg config.RetryConfig, log logger.Logger) *Gateway {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Gateway{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		signer:     sg,
		pacer:      pc,
		retryCfg:   retryCfg,
		apiBase:    APIBaseURL,
		logger:     log,
	}
}

// SetHTTPClient swaps the underlying HTTP client, mainly for tests
func (g *Gateway) SetHTTPClient(c *http.Client) {
	g.httpClient = c
}

// SetAPIBase points API calls at a different host, mainly for tests
func (g *Gateway) SetAPIBase(base string) {
	g.apiBase = base
}

// GetJSON performs a signed GET against the API host and returns the data
// payload after envelope checks.
func (g *Gateway) GetJSON(ctx context.Context, api string) (json.RawMessage, error) {
	return g.callAPI(ctx, http.MethodGet, api, nil)
}

// PostJSON performs a signed POST against the API host and returns the data
// payload after envelope checks.
func (g *Gateway) PostJSON(ctx context.Context, api string, body interface{}) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return g.callAPI(ctx, http.MethodPost, api, payload)
}

// FetchPage performs an unsigned GET against the web frontend and returns
// the raw HTML. Page fetches share the pacer and the cooldown ladder with
// API calls.
func (g *Gateway) FetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	return retry.DoWithResult(func() ([]byte, error) {
		return g.roundTrip(ctx, http.MethodGet, pageURL, "", nil)
	}, g.retryConfig(ctx))
}

// callAPI runs one API call through the retry ladder and unwraps the
// response envelope.
func (g *Gateway) callAPI(ctx context.Context, method, api string, payload []byte) (json.RawMessage, error) {
	endpoint := apiEndpoint(api)

	raw, err := retry.DoWithResult(func() ([]byte, error) {
		return g.roundTrip(ctx, method, g.apiBase+api, api, payload)
	}, g.retryConfig(ctx))
	if err != nil {
		metrics.APIRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		metrics.APIRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, &errs.Error{
			Type:    errs.ErrorTypeParsing,
			Message: fmt.Sprintf("malformed API response for %s: %v", endpoint, err),
		}
	}

	if !env.Success || env.Code != 0 {
		metrics.APIRequests.WithLabelValues(endpoint, "error").Inc()
		errType := errs.ErrorTypeUnknown
		// -100 is the platform's "login expired" code
		if env.Code == -100 {
			errType = errs.ErrorTypeAuth
		}
		return nil, &errs.Error{
			Type:    errType,
			Code:    env.Code,
			Message: fmt.Sprintf("API call %s failed: %s", endpoint, env.Msg),
		}
	}

	if env.Msg != "" && env.Msg != "成功" {
		g.logger.DebugWithFields("unexpected success message", map[string]interface{}{
			"endpoint": endpoint,
			"msg":      env.Msg,
		})
	}

	metrics.APIRequests.WithLabelValues(endpoint, "ok").Inc()
	return env.Data, nil
}

// roundTrip performs exactly one paced, signed HTTP request and classifies
// the outcome.
func (g *Gateway) roundTrip(ctx context.Context, method, fullURL, api string, payload []byte) ([]byte, error) {
	waited, err := g.pacer.Pace(ctx)
	if err != nil {
		return nil, err
	}
	metrics.PacerWait.Add(waited.Seconds())

	headers, err := g.signer.Headers(ctx, api, payload)
	if err != nil {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeAuth,
			Message: fmt.Sprintf("failed to sign request: %v", err),
		}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header = headers

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeNetwork,
			Message: err.Error(),
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeNetwork,
			Message: fmt.Sprintf("failed to read response body: %v", err),
		}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return data, nil
	case resp.StatusCode == StatusHardBlock:
		metrics.HardBlocks.Inc()
		metrics.APIRequests.WithLabelValues(apiEndpoint(api), "hard_block").Inc()
		g.logger.ErrorWithFields("hard block from platform", map[string]interface{}{
			"url":    fullURL,
			"status": resp.StatusCode,
		})
		return nil, &errs.Error{
			Type:    errs.ErrorTypeHardBlock,
			Code:    resp.StatusCode,
			Message: "session flagged by the platform",
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &errs.Error{
			Type:    errs.ErrorTypeRateLimit,
			Code:    resp.StatusCode,
			Message: "rate limited",
		}
	default:
		// Anything short of a hard block gets the cooldown ladder
		return nil, &errs.Error{
			Type:    errs.ErrorTypeServerError,
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("unexpected status %d", resp.StatusCode),
		}
	}
}

// retryConfig builds the gateway's cooldown ladder retry configuration
func (g *Gateway) retryConfig(ctx context.Context) *retry.Config {
	return &retry.Config{
		MaxAttempts: g.retryCfg.MaxAttempts,
		Backoff:     &retry.LadderBackoff{Unit: g.retryCfg.CooldownUnit, Long: 30},
		RetryIf:     retry.DefaultRetryIf,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			metrics.APIRetries.Inc()
		},
		Context: ctx,
		Logger:  g.logger,
	}
}

// IsHardBlock reports whether err is a hard block from the platform
func IsHardBlock(err error) bool {
	var apiErr *errs.Error
	return stderrors.As(err, &apiErr) && apiErr.Type == errs.ErrorTypeHardBlock
}

// apiEndpoint strips the query string so metrics labels stay low-cardinality
func apiEndpoint(api string) string {
	if api == "" {
		return "page"
	}
	if i := strings.IndexByte(api, '?'); i >= 0 {
		return api[:i]
	}
	return api
}
