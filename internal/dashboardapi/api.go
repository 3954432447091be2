// Package dashboardapi exposes the dashboard controller as a JSON API.
package dashboardapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/opsfocus/internal/dashboard"
	"github.com/linnemanlabs/opsfocus/internal/signal"
)

// Dashboard defines the controller operations the API needs.
type Dashboard interface {
	Mode() signal.FocusMode
	SetMode(ctx context.Context, m signal.FocusMode) error
	View(ctx context.Context) (dashboard.View, error)
	ViewAs(ctx context.Context, m signal.FocusMode) (dashboard.View, error)
	Signal(ctx context.Context, id string) (signal.Signal, bool, error)
	Stats(ctx context.Context) (signal.Stats, error)
	Select(ctx context.Context, id string) (dashboard.Detail, error)
	Deselect(ctx context.Context)
	Detail(ctx context.Context) (dashboard.Detail, error)
	SetStatus(ctx context.Context, id string, status signal.Status) (signal.Signal, error)
	Escalate(ctx context.Context, id string) error
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	dash   Dashboard
}

// New creates a new API handler.
func New(logger log.Logger, dash Dashboard) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if dash == nil {
		panic(xerrors.New("dashboard is required"))
	}
	return &API{
		logger: logger,
		dash:   dash,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/signals", a.handleListSignals)
		r.Get("/signals/{id}", a.handleGetSignal)
		r.Post("/signals/{id}/status", a.handleSetStatus)
		r.Post("/signals/{id}/escalate", a.handleEscalate)

		r.Get("/focus", a.handleGetFocus)
		r.Put("/focus", a.handleSetFocus)

		r.Get("/selection", a.handleGetSelection)
		r.Put("/selection", a.handleSelect)
		r.Delete("/selection", a.handleDeselect)

		r.Get("/stats", a.handleStats)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody reads a single JSON object with no unknown fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("unexpected data after JSON object")
	}
	return nil
}
