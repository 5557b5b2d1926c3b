// Package httpcall provides the handler behind webhook_call nodes: it
// performs one HTTP request against an external endpoint, with URL, headers
// and body templated from the execution context.
package httpcall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vendelabs/fluxo/pkg/protocol"
	"github.com/vendelabs/fluxo/pkg/template"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 1 << 20 // 1 MiB, responses beyond this are truncated
)

var errMissingURL = errors.New("missing or invalid 'url' parameter")

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (*Factory) ID() string {
	return "http_call"
}

func (*Factory) Create(_ map[string]any) (protocol.ActionHandler, error) {
	return &Handler{
		client: &http.Client{Timeout: defaultTimeout},
	}, nil
}

type Handler struct {
	client *http.Client
}

// Handle performs the request. Network errors and upstream 5xx responses are
// transient; a malformed URL or template is a configuration error; 4xx
// responses settle the dispatch as failed.
func (h *Handler) Handle(ctx context.Context, request protocol.DispatchRequest, logger *slog.Logger) (*protocol.DispatchResult, error) {
	logger = logger.With("action", "http_call")

	req, err := h.buildRequest(ctx, request)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Performing webhook call",
		"execution_id", request.ExecutionID,
		"node_id", request.NodeID,
		"method", req.Method,
		"url", req.URL.String(),
	)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, protocol.NewTransientError(fmt.Errorf("http request failed: %w", err))
	}

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, protocol.NewTransientError(fmt.Errorf("failed to read response body: %w", err))
	}

	output := map[string]any{
		"status_code": resp.StatusCode,
		"body":        decodeBody(body),
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, protocol.NewTransientError(fmt.Errorf("upstream returned status %d", resp.StatusCode))
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return &protocol.DispatchResult{
			Outcome: protocol.DispatchFailed,
			Output:  output,
			Detail:  fmt.Sprintf("upstream returned status %d", resp.StatusCode),
		}, nil
	}

	return &protocol.DispatchResult{
		Outcome: protocol.DispatchSucceeded,
		Output:  output,
	}, nil
}

func (h *Handler) buildRequest(ctx context.Context, request protocol.DispatchRequest) (*http.Request, error) {
	rawURL, ok := request.Parameters["url"].(string)
	if !ok || rawURL == "" {
		return nil, protocol.NewConfigError(errMissingURL)
	}

	renderedURL, err := template.RenderString(rawURL, request)
	if err != nil {
		return nil, protocol.NewConfigError(err)
	}

	parsed, err := url.Parse(renderedURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, protocol.NewConfigError(fmt.Errorf("invalid url %q", renderedURL))
	}

	method, _ := request.Parameters["method"].(string)
	if method == "" {
		method = http.MethodPost
	}

	var bodyReader io.Reader

	if rawBody, ok := request.Parameters["body"].(string); ok && rawBody != "" {
		rendered, err := template.RenderString(rawBody, request)
		if err != nil {
			return nil, protocol.NewConfigError(err)
		}

		bodyReader = strings.NewReader(rendered)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), renderedURL, bodyReader)
	if err != nil {
		return nil, protocol.NewConfigError(fmt.Errorf("failed to build request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")

	if rawHeaders, ok := request.Parameters["headers"].(map[string]any); ok {
		for name, value := range rawHeaders {
			str, ok := value.(string)
			if !ok {
				continue
			}

			rendered, err := template.RenderString(str, request)
			if err != nil {
				return nil, protocol.NewConfigError(err)
			}

			req.Header.Set(name, rendered)
		}
	}

	return req, nil
}

func decodeBody(body []byte) any {
	var decoded any

	err := json.Unmarshal(body, &decoded)
	if err != nil {
		return string(body)
	}

	return decoded
}
