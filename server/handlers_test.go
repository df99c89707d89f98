// handlers_test.go - HTTP-Tests ueber die komplette Route-Kette
//
// Faehrt die gin-Engine aus GenerateRoutes() mit einem geskripteten
// Model und prueft die Statuscode-Zusagen aus der Fehlerbehandlung:
// 200/400/404/429/503 sowie die Body-Formate beider Infer-Endpunkte.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/infermesh/infermesh/api"
)

func newTestFrontend(t *testing.T, m Model) (*Server, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	srv, err := NewServer(nil)
	require.NoError(t, err)

	require.NoError(t, srv.Registry.RegisterLoader("m", func(context.Context, ModelConfig) (Model, error) {
		return m, nil
	}, false))
	_, err = srv.Registry.Load(context.Background(), ModelConfig{Name: "m", Version: "1.0", MaxSeqLength: 256})
	require.NoError(t, err)
	require.NoError(t, srv.Registry.SetActiveVersion("m", "1.0"))
	srv.Runners.Ensure("m")

	t.Cleanup(func() {
		require.NoError(t, srv.Runners.StopAll())
		srv.Streams.Shutdown()
		srv.Limiter.Stop()
	})

	return srv, srv.GenerateRoutes()
}

func postJSON(t *testing.T, r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func getPath(t *testing.T, r *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestInferCollectsAllTokens(t *testing.T) {
	_, r := newTestFrontend(t, &scriptedModel{perPrompt: 3})

	w := postJSON(t, r, "/infer", api.GenerateRequest{Model: "m", Prompt: "hallo"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp api.GenerateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.RequestID)
	require.Len(t, resp.Tokens, 3)
	require.Equal(t, api.ReasonDone, resp.CompletionReason)
	for i, tok := range resp.Tokens {
		require.Equal(t, i, tok.TokenID, "Tokens in Produktionsreihenfolge")
	}
	require.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestInferStreamNDJSON(t *testing.T) {
	_, r := newTestFrontend(t, &scriptedModel{perPrompt: 2})

	w := postJSON(t, r, "/infer_stream", api.GenerateRequest{Model: "m", Prompt: "hallo"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 3, "2 Token-Zeilen plus Terminal-Objekt")

	for i := 0; i < 2; i++ {
		var tok api.TokenJSON
		require.NoError(t, json.Unmarshal([]byte(lines[i]), &tok))
		require.Equal(t, i, tok.TokenID)
	}

	var terminal api.StreamTerminal
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &terminal))
	require.True(t, terminal.End)
	require.Equal(t, api.ReasonDone, terminal.CompletionReason)
}

func TestInferValidationErrors(t *testing.T) {
	_, r := newTestFrontend(t, &scriptedModel{perPrompt: 1})

	cases := []struct {
		name string
		body map[string]any
	}{
		{"fehlendes model", map[string]any{"prompt": "x"}},
		{"unbekannte priority", map[string]any{"model": "m", "prompt": "x", "priority": "DRINGEND"}},
		{"max_tokens null", map[string]any{"model": "m", "prompt": "x", "max_tokens": 0}},
		{"max_tokens ueber max_seq_length", map[string]any{"model": "m", "prompt": "x", "max_tokens": 300}},
		{"negative temperature", map[string]any{"model": "m", "prompt": "x", "temperature": -0.5}},
		{"timeout null", map[string]any{"model": "m", "prompt": "x", "timeout_s": 0}},
	}
	for _, tc := range cases {
		w := postJSON(t, r, "/infer", tc.body)
		require.Equalf(t, http.StatusBadRequest, w.Code, "%s: %s", tc.name, w.Body.String())
	}
}

func TestInferUnknownModel(t *testing.T) {
	_, r := newTestFrontend(t, &scriptedModel{perPrompt: 1})

	w := postJSON(t, r, "/infer", api.GenerateRequest{Model: "fehlt", Prompt: "x"})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestInferQueueFull(t *testing.T) {
	t.Setenv("INFER_MAX_QUEUE", "1")
	srv, r := newTestFrontend(t, &scriptedModel{perPrompt: 1})

	// Runner anhalten und die einzige Queue-Position belegen.
	require.NoError(t, srv.Runners.StopAll())
	srv.Scheduler.Enqueue("m", testSlot("blockiert", api.PriorityNormal))

	w := postJSON(t, r, "/infer", api.GenerateRequest{Model: "m", Prompt: "x"})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestInferRateLimited(t *testing.T) {
	t.Setenv("INFER_RATE_LIMIT_PER_MIN", "2")
	_, r := newTestFrontend(t, &scriptedModel{perPrompt: 1})

	body := api.GenerateRequest{Model: "m", Prompt: "x", ClientID: "gieriger-client"}
	for i := 0; i < 2; i++ {
		w := postJSON(t, r, "/infer", body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := postJSON(t, r, "/infer", body)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestInferErrorReturns500(t *testing.T) {
	_, r := newTestFrontend(t, &scriptedModel{fail: fmt.Errorf("oom")})

	w := postJSON(t, r, "/infer", api.GenerateRequest{Model: "m", Prompt: "x"})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, w.Body.String(), "oom")
}

func TestHealthEndpoint(t *testing.T) {
	srv, r := newTestFrontend(t, &scriptedModel{perPrompt: 1})

	w := getPath(t, r, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"ok"`)

	srv.draining.Store(true)
	w = getPath(t, r, "/health")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	// Im Drain-Modus werden auch neue Infer-Requests abgewiesen.
	w = postJSON(t, r, "/infer", api.GenerateRequest{Model: "m", Prompt: "x"})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestModelsEndpoint(t *testing.T) {
	_, r := newTestFrontend(t, &scriptedModel{perPrompt: 1})

	w := getPath(t, r, "/models")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"Name":"m"`)
	require.Contains(t, w.Body.String(), `"Version":"1.0"`)
}

func TestMetricsEndpointAfterRequest(t *testing.T) {
	_, r := newTestFrontend(t, &scriptedModel{perPrompt: 2})

	w := postJSON(t, r, "/infer", api.GenerateRequest{Model: "m", Prompt: "x"})
	require.Equal(t, http.StatusOK, w.Code)

	w = getPath(t, r, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"Model":"m"`)

	w = getPath(t, r, "/metrics/prom")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "infer_requests_total")
}

func TestStatusEndpoint(t *testing.T) {
	_, r := newTestFrontend(t, &scriptedModel{perPrompt: 1})

	w := getPath(t, r, "/status")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "uptime_s")
	require.Contains(t, w.Body.String(), "draining")
}

func TestModelManagementRoundtrip(t *testing.T) {
	srv, r := newTestFrontend(t, &scriptedModel{perPrompt: 1})

	// Zweite Version laden und aktivieren.
	w := postJSON(t, r, "/models/load", api.LoadModelRequest{Name: "m", Version: "2.0"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = postJSON(t, r, "/models/activate", api.ActivateModelRequest{Name: "m", Version: "2.0"})
	require.Equal(t, http.StatusOK, w.Code)

	lm, err := srv.Registry.Lookup("m")
	require.NoError(t, err)
	require.Equal(t, "2.0", lm.Config.Version)
	srv.Registry.Release(lm)

	// Doppeltes Laden kollidiert.
	w = postJSON(t, r, "/models/load", api.LoadModelRequest{Name: "m", Version: "2.0"})
	require.Equal(t, http.StatusConflict, w.Code)

	// Alte Version entladen, neue bleibt aktiv.
	req := httptest.NewRequest(http.MethodDelete, "/models/m/1.0", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	w = getPath(t, r, "/models")
	require.NotContains(t, w.Body.String(), `"Version":"1.0"`)
	require.Contains(t, w.Body.String(), `"Version":"2.0"`)

	// Unbekannte Version -> 404.
	req = httptest.NewRequest(http.MethodDelete, "/models/m/9.9", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestTimeoutCompletionReason(t *testing.T) {
	_, r := newTestFrontend(t, &scriptedModel{perPrompt: 3})

	// Deadline liegt praktisch sofort in der Vergangenheit; die
	// Antwort bleibt 200 mit completion_reason timeout.
	timeout := 0.001
	w := postJSON(t, r, "/infer", api.GenerateRequest{Model: "m", Prompt: "x", TimeoutS: &timeout})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp api.GenerateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, api.ReasonTimeout, resp.CompletionReason)
}
