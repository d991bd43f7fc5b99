package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/marketlens/gateway/internal/config"
	apperrors "github.com/marketlens/gateway/internal/errors"
	"github.com/marketlens/gateway/internal/metrics"
)

const maxBackendBody = 10 << 20

type BackendConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

type BackendResponse struct {
	Status      int
	ContentType string
	Body        json.RawMessage
}

func (r *BackendResponse) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// ErrorMessage extracts a readable failure from a non-2xx JSON body.
func (r *BackendResponse) ErrorMessage() string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(r.Body, &body); err == nil {
		if body.Error != "" {
			return fmt.Sprintf("backend returned %d: %s", r.Status, body.Error)
		}
		if body.Message != "" {
			return fmt.Sprintf("backend returned %d: %s", r.Status, body.Message)
		}
	}
	return fmt.Sprintf("backend returned %d", r.Status)
}

// InvalidResponseDetails is attached to BACKEND_INVALID_RESPONSE errors.
type InvalidResponseDetails struct {
	Status      int    `json:"status"`
	Excerpt     string `json:"excerpt"`
	Hint        string `json:"hint"`
	ContentType string `json:"contentType,omitempty"`
}

// HTTPStatus is the status the gateway answers with: the backend's own
// status when it signalled an error, otherwise 502.
func (d InvalidResponseDetails) HTTPStatus() int {
	if d.Status >= 400 {
		return d.Status
	}
	return http.StatusBadGateway
}

// BackendClient forwards calls to the analysis backend and normalizes what
// comes back into JSON or a structured AppError.
type BackendClient struct {
	cfg    BackendConfig
	client *http.Client
}

func NewBackendClient(cfg BackendConfig) *BackendClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultBackendTimeout
	}
	return &BackendClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Missing lists the backend settings that are not set.
func (c *BackendClient) Missing() []string {
	var missing []string
	if strings.TrimSpace(c.cfg.URL) == "" {
		missing = append(missing, "BACKEND_URL")
	}
	if strings.TrimSpace(c.cfg.Token) == "" {
		missing = append(missing, "BACKEND_TOKEN")
	}
	return missing
}

func (c *BackendClient) CheckConfigured() error {
	if missing := c.Missing(); len(missing) > 0 {
		return apperrors.BackendMisconfigured(missing)
	}
	return nil
}

func (c *BackendClient) Forward(ctx context.Context, userID, method, path, rawQuery string, body []byte) (*BackendResponse, error) {
	if err := c.CheckConfigured(); err != nil {
		metrics.RecordBackend(metrics.OutcomeMisconfigured, 0)
		return nil, err
	}

	target := strings.TrimRight(c.cfg.URL, "/") + "/" + strings.TrimLeft(path, "/")
	if rawQuery != "" {
		target += "?" + rawQuery
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, apperrors.BackendUnavailable(c.cfg.URL, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set(config.HeaderGatewayToken, c.cfg.Token)
	if userID != "" {
		req.Header.Set(config.HeaderUserID, userID)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		metrics.RecordBackend(metrics.OutcomeUnavailable, elapsed)
		log.Error().
			Err(err).
			Str("method", method).
			Str("path", path).
			Dur("elapsed", elapsed).
			Msg("backend request error")
		return nil, apperrors.BackendUnavailable(c.cfg.URL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBackendBody))
	if err != nil {
		metrics.RecordBackend(metrics.OutcomeUnavailable, elapsed)
		return nil, apperrors.BackendUnavailable(c.cfg.URL, fmt.Errorf("read response: %w", err))
	}

	result, err := TranslateResponse(resp.StatusCode, resp.Header.Get("Content-Type"), raw)
	switch {
	case err != nil:
		metrics.RecordBackend(metrics.OutcomeInvalidBody, elapsed)
		log.Warn().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("backend returned a non-JSON body")
	case !result.OK():
		metrics.RecordBackend(metrics.OutcomeHTTPError, elapsed)
		log.Warn().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("backend request failed")
	default:
		metrics.RecordBackend(metrics.OutcomeSuccess, elapsed)
		log.Debug().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("backend request successful")
	}
	return result, err
}

// TranslateResponse accepts a JSON body as-is. Anything else becomes a
// BACKEND_INVALID_RESPONSE error carrying the status, a bounded excerpt and
// a hint that separates error pages from unparseable bodies.
func TranslateResponse(status int, contentType string, raw []byte) (*BackendResponse, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		trimmed = []byte("{}")
	}
	if json.Valid(trimmed) {
		return &BackendResponse{Status: status, ContentType: contentType, Body: json.RawMessage(trimmed)}, nil
	}

	details := InvalidResponseDetails{
		Status:      status,
		Excerpt:     Excerpt(string(trimmed), config.BackendExcerptLimit),
		ContentType: contentType,
	}
	message := "Analysis backend returned a response that is not valid JSON"
	if looksLikeHTML(contentType, trimmed) {
		message = "Analysis backend returned an HTML error page"
		details.Hint = fmt.Sprintf("The backend answered with an HTML page (status %d) instead of JSON. "+
			"It is probably down, or BACKEND_URL points at a web server rather than the analysis API.", status)
	} else {
		details.Hint = fmt.Sprintf("The backend answered with status %d but the body could not be parsed as JSON. "+
			"Check the backend logs for the failing route.", status)
	}

	return nil, apperrors.BackendInvalidResponse(message).WithDetails(details)
}

func looksLikeHTML(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	head := body
	if len(head) > 512 {
		head = head[:512]
	}
	lower := bytes.ToLower(head)
	for _, marker := range [][]byte{[]byte("<!doctype html"), []byte("<html"), []byte("<head"), []byte("<body"), []byte("<title")} {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Excerpt truncates s to at most limit bytes without splitting a rune.
func Excerpt(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
