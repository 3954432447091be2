package dashboardapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/opsfocus/internal/dashboard"
	"github.com/linnemanlabs/opsfocus/internal/signal"
)

func (a *API) handleListSignals(w http.ResponseWriter, r *http.Request) {
	var (
		view dashboard.View
		err  error
	)
	if q := r.URL.Query().Get("mode"); q != "" {
		m, perr := signal.ParseFocusMode(q)
		if perr != nil {
			http.Error(w, `{"error":"invalid mode"}`, http.StatusBadRequest)
			return
		}
		view, err = a.dash.ViewAs(r.Context(), m)
	} else {
		view, err = a.dash.View(r.Context())
	}
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list signals")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("opsfocus.focus.mode", string(view.Mode)),
		attribute.Int("opsfocus.signals.visible", view.Visible),
	)
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleGetSignal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("opsfocus.signal.id", id))

	sig, ok, err := a.dash.Signal(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get signal", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

type statusRequest struct {
	Status signal.Status `json:"status"`
}

func (a *API) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("opsfocus.signal.id", id))

	var req statusRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if !req.Status.Valid() {
		http.Error(w, `{"error":"invalid status"}`, http.StatusBadRequest)
		return
	}

	sig, err := a.dash.SetStatus(r.Context(), id, req.Status)
	switch {
	case errors.Is(err, signal.ErrNotFound):
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	case err != nil:
		a.logger.Error(r.Context(), err, "failed to set status", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

func (a *API) handleEscalate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("opsfocus.signal.id", id))

	err := a.dash.Escalate(r.Context(), id)
	switch {
	case errors.Is(err, dashboard.ErrEscalationDisabled):
		http.Error(w, `{"error":"escalation not configured"}`, http.StatusServiceUnavailable)
		return
	case errors.Is(err, dashboard.ErrUnknownSignal):
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	case err != nil:
		a.logger.Error(r.Context(), err, "escalation failed", "id", id)
		http.Error(w, `{"error":"escalation failed"}`, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"escalated": id})
}
