// Package proxy forwards analysis requests from the public API to the
// analyzer services supervised by the bridge package. The child processes
// are never exposed directly: every request passes through a readiness
// guard so a dead or starting analyzer costs nothing but a local check.
package proxy

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/scamshield/scamshield/internal/bridge"
	"github.com/scamshield/scamshield/internal/core"
)

const (
	// forwardTimeout bounds one proxied analysis request end to end.
	forwardTimeout = 30 * time.Second
)

// ServiceDirectory resolves service names to their bridges. The server's
// registry implements it.
type ServiceDirectory interface {
	Lookup(name string) (*bridge.Bridge, bool)
	Names() []string
}

// errorBody is the JSON error payload returned to API clients.
type errorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// Gateway proxies JSON requests to analyzer services.
type Gateway struct {
	directory ServiceDirectory
	client    *http.Client
	clock     clockwork.Clock
}

// NewGateway creates a gateway with a real clock.
func NewGateway(directory ServiceDirectory) *Gateway {
	return NewGatewayWithClock(directory, clockwork.NewRealClock())
}

// NewGatewayWithClock creates a gateway with a custom clock.
// This is useful for testing with a fake clock.
func NewGatewayWithClock(directory ServiceDirectory, clock clockwork.Clock) *Gateway {
	return &Gateway{
		directory: directory,
		client:    &http.Client{},
		clock:     clock,
	}
}

// Forward returns an echo handler that relays the request body to childPath
// on the named analyzer and streams the analyzer's response back verbatim.
// When the analyzer is not ready the handler answers 503 immediately without
// touching the child.
func (g *Gateway) Forward(serviceName, childPath string) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := g.clock.Now()

		br, ok := g.directory.Lookup(serviceName)
		if !ok {
			return g.unknownService(c, serviceName)
		}
		if !br.IsReady() {
			return g.unavailable(c, br)
		}

		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorEnvelope{Error: errorBody{
				Code:    "invalid_request",
				Message: "failed to read request body: " + err.Error(),
			}})
		}

		ctx, cancel := clockwork.WithTimeout(c.Request().Context(), g.clock, forwardTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, br.BaseURL()+childPath, bytes.NewReader(body))
		if err != nil {
			return g.upstreamFailure(c, serviceName, childPath, start, err)
		}
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

		resp, err := g.client.Do(req)
		if err != nil {
			return g.upstreamFailure(c, serviceName, childPath, start, err)
		}
		defer core.LogDeferredError(resp.Body.Close)

		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return g.upstreamFailure(c, serviceName, childPath, start, err)
		}

		core.LogProxyRequest(serviceName, childPath, g.clock.Since(start).Seconds(), nil)

		contentType := resp.Header.Get(echo.HeaderContentType)
		if contentType == "" {
			contentType = echo.MIMEApplicationJSON
		}
		return c.Blob(resp.StatusCode, contentType, payload)
	}
}

// unknownService answers 404 with a typo suggestion when one is close enough.
func (g *Gateway) unknownService(c echo.Context, name string) error {
	body := errorBody{
		Code:    "unknown_service",
		Message: "unknown analyzer service '" + name + "'",
	}
	if suggestion := SuggestSimilarService(g.directory.Names(), name); suggestion != "" {
		body.Suggestion = "Did you mean: " + suggestion + "?"
	}
	return c.JSON(http.StatusNotFound, errorEnvelope{Error: body})
}

// unavailable answers 503 with the bridge's last recorded error, if any.
func (g *Gateway) unavailable(c echo.Context, br *bridge.Bridge) error {
	body := errorBody{
		Code:       "service_unavailable",
		Message:    "analyzer service '" + br.Service() + "' is not ready",
		Suggestion: "Retry shortly; check /api/services/" + br.Service() + "/status for details",
	}
	if rec := br.LastError(); rec != nil {
		body.Code = string(rec.Kind)
		body.Message = rec.Message
		body.Suggestion = rec.Suggestion
	}
	zap.L().Warn("Rejected request for unavailable analyzer",
		zap.String("service", br.Service()),
		zap.String("state", string(br.Status().State)))
	return c.JSON(http.StatusServiceUnavailable, errorEnvelope{Error: body})
}

// upstreamFailure answers 502 when the analyzer accepted the connection path
// but the request itself failed.
func (g *Gateway) upstreamFailure(c echo.Context, serviceName, childPath string, start time.Time, err error) error {
	rec := bridge.NewNetworkError(err)
	core.LogProxyRequest(serviceName, childPath, g.clock.Since(start).Seconds(), err)
	return c.JSON(http.StatusBadGateway, errorEnvelope{Error: errorBody{
		Code:       string(rec.Kind),
		Message:    rec.Message,
		Suggestion: rec.Suggestion,
	}})
}

// SuggestSimilarService finds the most similar service name for typo detection using Levenshtein distance
func SuggestSimilarService(names []string, name string) string {
	if len(names) == 0 {
		return ""
	}

	var best string
	bestDistance := 3 // Only consider distances <= 2

	nameLower := strings.ToLower(name)
	for _, candidate := range names {
		distance := levenshtein.ComputeDistance(nameLower, strings.ToLower(candidate))
		if distance < bestDistance {
			bestDistance = distance
			best = candidate
		}
	}

	return best
}
