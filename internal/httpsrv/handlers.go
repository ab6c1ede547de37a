package httpsrv

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/nuri428/ontology-chat/internal/errkind"
	"github.com/nuri428/ontology-chat/internal/router"
	"github.com/nuri428/ontology-chat/internal/workflow"
)

const maxBodyBytes = 64 << 10

type chatRequest struct {
	Query     string `json:"query"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	ForceDeep bool   `json:"force_deep,omitempty"`
}

type deepRequest struct {
	Query         string `json:"query"`
	AnalysisDepth string `json:"analysis_depth,omitempty"`
	LookbackDays  int    `json:"lookback_days,omitempty"`
	Domain        string `json:"domain,omitempty"`
	Symbol        string `json:"symbol,omitempty"`
}

type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.deps.Router.Route(r.Context(), router.Query{
		Text:      req.Query,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		ForceDeep: req.ForceDeep,
	}, nil)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeepAnalysis(w http.ResponseWriter, r *http.Request) {
	var req deepRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.deps.Router.RouteDeep(r.Context(), router.Query{
		Text:         req.Query,
		Depth:        req.AnalysisDepth,
		Symbol:       req.Symbol,
		LookbackDays: req.LookbackDays,
	}, nil)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleChatStream answers a chat query over SSE: progress events while the
// deep workflow runs, a "final" event with the full envelope, then "done".
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	q := router.Query{}
	if r.Method == http.MethodPost {
		var req chatRequest
		if !decodeBody(w, r, &req) {
			return
		}
		q = router.Query{Text: req.Query, UserID: req.UserID, SessionID: req.SessionID, ForceDeep: req.ForceDeep}
	} else {
		q.Text = r.URL.Query().Get("query")
		q.ForceDeep = r.URL.Query().Get("force_deep") == "true"
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer cannot stream")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events := make(chan workflow.Event, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range events {
			writeSSE(w, "progress", e)
			flusher.Flush()
		}
	}()

	resp, err := s.deps.Router.Route(r.Context(), q, func(e workflow.Event) {
		select {
		case events <- e:
		default: // a slow client never stalls the workflow
		}
	})
	close(events)
	<-done

	if err != nil {
		writeSSE(w, "error", errorBody{Error: errorKind(err), Message: err.Error()})
		flusher.Flush()
		return
	}
	writeSSE(w, "final", resp)
	writeSSE(w, "done", struct{}{})
	flusher.Flush()
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports breaker states, the derived degradation level, and
// cache reachability. Ready means the engine can serve at least degraded
// responses.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.deps.Breakers != nil {
		body["breakers"] = s.deps.Breakers.States()
	}
	body["degradation_level"] = s.deps.Router.Level().String()
	if s.deps.Cache != nil {
		if err := s.deps.Cache.Ready(r.Context()); err != nil {
			body["cache"] = "degraded: " + err.Error()
		} else {
			body["cache"] = "ok"
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeError(w, http.StatusNotFound, "not_found", "cache disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Cache.Stats(r.Context()))
}

func (s *Server) handleCacheFlush(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeError(w, http.StatusNotFound, "not_found", "cache disabled")
		return
	}
	layer := r.URL.Query().Get("layer")
	if layer == "" {
		s.deps.Cache.Flush(r.Context())
	} else {
		s.deps.Cache.FlushLayer(r.Context(), layer)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "flushed", "layer": layer})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation", "invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeEngineError maps engine error kinds onto HTTP statuses: validation
// errors are the caller's fault, overload and open circuits ask the caller to
// back off, everything else is a plain 500.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errkind.ErrValidation):
		writeError(w, http.StatusUnprocessableEntity, "validation", err.Error())
	case errors.Is(err, errkind.ErrOverload), errors.Is(err, errkind.ErrCircuitOpen):
		w.Header().Set("Retry-After", "5")
		writeJSON(w, http.StatusServiceUnavailable,
			errorBody{Error: errorKind(err), Message: err.Error(), RetryAfter: 5})
	case errors.Is(err, errkind.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "timeout", err.Error())
	default:
		log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, errkind.ErrValidation):
		return "validation"
	case errors.Is(err, errkind.ErrOverload):
		return "overload"
	case errors.Is(err, errkind.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, errkind.ErrTimeout):
		return "timeout"
	default:
		return "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("response encoding failed")
	}
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorBody{Error: kind, Message: msg})
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, strings.ReplaceAll(string(raw), "\n", ""))
}
