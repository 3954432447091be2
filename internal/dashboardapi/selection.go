package dashboardapi

import (
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/opsfocus/internal/dashboard"
	"github.com/linnemanlabs/opsfocus/internal/signal"
)

type focusRequest struct {
	Mode string `json:"mode"`
}

type focusResponse struct {
	Mode  signal.FocusMode   `json:"mode"`
	Modes []signal.FocusMode `json:"modes"`
}

func (a *API) handleGetFocus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, focusResponse{Mode: a.dash.Mode(), Modes: signal.FocusModes})
}

func (a *API) handleSetFocus(w http.ResponseWriter, r *http.Request) {
	var req focusRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	m, err := signal.ParseFocusMode(req.Mode)
	if err != nil {
		http.Error(w, `{"error":"invalid mode"}`, http.StatusBadRequest)
		return
	}
	if err := a.dash.SetMode(r.Context(), m); err != nil {
		a.logger.Error(r.Context(), err, "failed to set focus mode")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("opsfocus.focus.mode", string(m)))
	writeJSON(w, http.StatusOK, focusResponse{Mode: m, Modes: signal.FocusModes})
}

type selectRequest struct {
	ID string `json:"id"`
}

func (a *API) handleGetSelection(w http.ResponseWriter, r *http.Request) {
	d, err := a.dash.Detail(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to read selection")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := decodeBody(r, &req); err != nil || req.ID == "" {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("opsfocus.signal.id", req.ID))

	d, err := a.dash.Select(r.Context(), req.ID)
	switch {
	case errors.Is(err, dashboard.ErrUnknownSignal):
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	case err != nil:
		a.logger.Error(r.Context(), err, "failed to select signal", "id", req.ID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("opsfocus.triage.request_id", d.RequestID))
	writeJSON(w, http.StatusAccepted, d)
}

func (a *API) handleDeselect(w http.ResponseWriter, r *http.Request) {
	a.dash.Deselect(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.dash.Stats(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to compute stats")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
