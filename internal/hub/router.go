package hub

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"skillswap/native/internal/domain"
)

// NewRouter mounts the relay endpoints.
func (h *Hub) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/ws", h.ServeWS)
	r.Get("/v1/calls/{callID}/signals", h.serveHistory)

	return r
}

func (h *Hub) serveHistory(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	msgs, err := h.History(r.Context(), callID)
	if err != nil {
		h.logger.Error().Err(err).Str("call_id", callID).Str("request_id", middleware.GetReqID(r.Context())).Msg("list signals")
		http.Error(w, "list signals failed", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []domain.SignalMessage{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(msgs); err != nil {
		h.logger.Warn().Err(err).Msg("encode signals")
	}
}
