package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/opsfocus/internal/signal"
	"github.com/linnemanlabs/opsfocus/internal/triage"
)

// DetailState is the state of the detail panel.
type DetailState string

const (
	// StateEmpty means nothing is selected, or the selection did not resolve to a signal
	StateEmpty DetailState = "empty"
	// StateLoading means a triage request is outstanding
	StateLoading DetailState = "loading"
	// StateReady means an analysis is present (live, mock or fallback)
	StateReady DetailState = "ready"
	// StateFailed means the classifier crashed; the panel shows failure text
	StateFailed DetailState = "failed"
)

// FailureText is shown in the failed state.
const FailureText = "Triage could not be completed. Please review manually."

var (
	// ErrUnknownSignal is returned when selecting an id that is not in the store.
	ErrUnknownSignal = errors.New("unknown signal")

	// ErrEscalationDisabled is returned by Escalate when no escalator is configured.
	ErrEscalationDisabled = errors.New("escalation is not configured")

	// ErrClosed is returned by Select after Close.
	ErrClosed = errors.New("controller closed")
)

// Key correlates a triage request with the selection it was issued for.
type Key struct {
	SignalID  string
	RequestID string
}

// Escalator sends a signal and its current analysis to humans.
type Escalator interface {
	SendEscalation(ctx context.Context, sig *signal.Signal, analysis *triage.Analysis) error
}

// Hooks receives instrumentation callbacks. All fields are optional.
type Hooks struct {
	OnModeChange   func(from, to signal.FocusMode)
	OnSelect       func(found bool)
	OnStaleDiscard func()
	OnFailed       func()
}

// Detail is a snapshot of the detail panel.
type Detail struct {
	State     DetailState      `json:"state"`
	SignalID  string           `json:"signal_id,omitempty"`
	RequestID string           `json:"request_id,omitempty"`
	Signal    *signal.Signal   `json:"signal,omitempty"`
	Analysis  *triage.Analysis `json:"analysis,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// View is the focus-filtered signal list. Total is the pre-filter count so
// "filtered to nothing" can be told apart from "no signals".
type View struct {
	Mode    signal.FocusMode `json:"mode"`
	Total   int              `json:"total"`
	Visible int              `json:"visible"`
	Signals []signal.Signal  `json:"signals"`
}

type pending struct {
	key    Key
	cancel context.CancelFunc
}

// Controller is the single owner of dashboard state.
type Controller struct {
	store      signal.Store
	classifier triage.Classifier
	escalator  Escalator
	logger     log.Logger
	hooks      Hooks
	now        func() time.Time

	mu       sync.Mutex
	mode     signal.FocusMode
	selected string
	inflight *pending
	state    DetailState
	reqID    string
	analysis *triage.Analysis
	closed   bool

	wg sync.WaitGroup
}

// Option configures a Controller.
type Option func(*Controller)

// WithEscalator enables Escalate.
func WithEscalator(e Escalator) Option {
	return func(c *Controller) { c.escalator = e }
}

// WithHooks installs instrumentation callbacks.
func WithHooks(h Hooks) Option {
	return func(c *Controller) { c.hooks = h }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New returns a Controller in Normal mode with nothing selected.
func New(store signal.Store, classifier triage.Classifier, logger log.Logger, opts ...Option) *Controller {
	if store == nil {
		panic(xerrors.New("dashboard.New: store is nil"))
	}
	if classifier == nil {
		panic(xerrors.New("dashboard.New: classifier is nil"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	c := &Controller{
		store:      store,
		classifier: classifier,
		logger:     logger,
		now:        time.Now,
		mode:       signal.FocusNormal,
		state:      StateEmpty,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mode returns the current focus mode.
func (c *Controller) Mode() signal.FocusMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode changes the focus mode. It does not touch the selection.
func (c *Controller) SetMode(ctx context.Context, m signal.FocusMode) error {
	if !m.Valid() {
		return fmt.Errorf("invalid focus mode %q", m)
	}
	c.mu.Lock()
	from := c.mode
	c.mode = m
	c.mu.Unlock()

	if from != m {
		c.logger.Info(ctx, "focus mode changed", "from", from, "to", m)
		if c.hooks.OnModeChange != nil {
			c.hooks.OnModeChange(from, m)
		}
	}
	return nil
}

// View returns the signal list filtered and sorted by the current mode.
func (c *Controller) View(ctx context.Context) (View, error) {
	return c.ViewAs(ctx, c.Mode())
}

// ViewAs returns the list as it would look in mode m without changing state.
func (c *Controller) ViewAs(ctx context.Context, m signal.FocusMode) (View, error) {
	all, err := c.store.List(ctx)
	if err != nil {
		return View{}, fmt.Errorf("list signals: %w", err)
	}
	visible := signal.FilterAndSort(all, m)
	return View{Mode: m, Total: len(all), Visible: len(visible), Signals: visible}, nil
}

// Signal returns one signal from the store.
func (c *Controller) Signal(ctx context.Context, id string) (signal.Signal, bool, error) {
	return c.store.Get(ctx, id)
}

// Stats computes dashboard statistics over the whole store.
func (c *Controller) Stats(ctx context.Context) (signal.Stats, error) {
	all, err := c.store.List(ctx)
	if err != nil {
		return signal.Stats{}, fmt.Errorf("list signals: %w", err)
	}
	return signal.ComputeStats(all, c.now()), nil
}

// Select makes id the selection, discards whatever the previous selection
// had, marks the signal read and issues a fresh triage request. An id not in
// the store resolves to the empty state and returns ErrUnknownSignal.
func (c *Controller) Select(ctx context.Context, id string) (Detail, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return Detail{}, ErrClosed
	}

	sig, ok, err := c.store.Get(ctx, id)
	if err != nil {
		return Detail{}, fmt.Errorf("get signal: %w", err)
	}
	if c.hooks.OnSelect != nil {
		c.hooks.OnSelect(ok)
	}

	if !ok {
		c.mu.Lock()
		c.resetLocked()
		c.mu.Unlock()
		c.logger.Info(ctx, "selection did not resolve to a signal", "signal_id", id)
		return Detail{State: StateEmpty}, ErrUnknownSignal
	}

	if err := c.store.MarkRead(ctx, id); err != nil && !errors.Is(err, signal.ErrNotFound) {
		c.logger.Error(ctx, err, "failed to mark signal read", "signal_id", id)
	}
	sig.IsRead = true

	key := Key{SignalID: id, RequestID: ulid.Make().String()}
	// detached from the caller: the request outlives the action that issued it
	reqCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return Detail{}, ErrClosed
	}
	c.resetLocked()
	c.selected = id
	c.reqID = key.RequestID
	c.state = StateLoading
	c.inflight = &pending{key: key, cancel: cancel}
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Info(ctx, "triage requested", "signal_id", id, "request_id", key.RequestID)
	go c.run(reqCtx, key, sig)

	return Detail{State: StateLoading, SignalID: id, RequestID: key.RequestID, Signal: &sig}, nil
}

// Deselect clears the selection, discards the analysis and cancels any
// outstanding request.
func (c *Controller) Deselect(ctx context.Context) {
	c.mu.Lock()
	prev := c.selected
	c.resetLocked()
	c.mu.Unlock()
	if prev != "" {
		c.logger.Info(ctx, "selection cleared", "signal_id", prev)
	}
}

// Detail returns the current detail panel. The signal is read fresh from the
// store so operator status changes show up.
func (c *Controller) Detail(ctx context.Context) (Detail, error) {
	c.mu.Lock()
	d := Detail{State: c.state, SignalID: c.selected, RequestID: c.reqID}
	if c.analysis != nil {
		a := c.analysis.Clone()
		d.Analysis = &a
	}
	c.mu.Unlock()

	if d.State == StateFailed {
		d.Error = FailureText
	}
	if d.SignalID == "" {
		return d, nil
	}
	sig, ok, err := c.store.Get(ctx, d.SignalID)
	if err != nil {
		return Detail{}, fmt.Errorf("get signal: %w", err)
	}
	if ok {
		d.Signal = &sig
	}
	return d, nil
}

// SetStatus applies an operator status change from the detail panel.
func (c *Controller) SetStatus(ctx context.Context, id string, status signal.Status) (signal.Signal, error) {
	sig, err := c.store.SetStatus(ctx, id, status, c.now())
	if err != nil {
		return signal.Signal{}, err
	}
	c.logger.Info(ctx, "signal status changed", "signal_id", id, "status", status)
	return sig, nil
}

// Escalate hands the signal to the escalator together with the current
// analysis when id is the selected signal and its analysis is ready.
func (c *Controller) Escalate(ctx context.Context, id string) error {
	if c.escalator == nil {
		return ErrEscalationDisabled
	}
	sig, ok, err := c.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get signal: %w", err)
	}
	if !ok {
		return ErrUnknownSignal
	}

	var analysis *triage.Analysis
	c.mu.Lock()
	if c.selected == id && c.analysis != nil {
		a := c.analysis.Clone()
		analysis = &a
	}
	c.mu.Unlock()

	if err := c.escalator.SendEscalation(ctx, &sig, analysis); err != nil {
		return fmt.Errorf("escalate %s: %w", id, err)
	}
	c.logger.Info(ctx, "signal escalated", "signal_id", id, "with_analysis", analysis != nil)
	return nil
}

// Close cancels any outstanding request and waits for background work.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.resetLocked()
	c.mu.Unlock()
	c.wg.Wait()
}

// resetLocked drops the selection and cancels the in-flight request. c.mu must be held.
func (c *Controller) resetLocked() {
	if c.inflight != nil {
		c.inflight.cancel()
		c.inflight = nil
	}
	c.selected = ""
	c.reqID = ""
	c.analysis = nil
	c.state = StateEmpty
}

func (c *Controller) run(ctx context.Context, key Key, sig signal.Signal) {
	defer c.wg.Done()

	a, err := c.analyze(ctx, &sig)
	c.complete(ctx, key, a, err)
}

// analyze shields the controller from a classifier crash.
func (c *Controller) analyze(ctx context.Context, sig *signal.Signal) (a triage.Analysis, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("classifier panic: %v", r)
		}
	}()
	return c.classifier.Analyze(ctx, sig), nil
}

// complete applies a finished request only if it is still the pending one.
func (c *Controller) complete(ctx context.Context, key Key, a triage.Analysis, err error) {
	c.mu.Lock()
	if c.inflight == nil || c.inflight.key != key {
		c.mu.Unlock()
		c.logger.Info(ctx, "discarding stale triage result",
			"signal_id", key.SignalID,
			"request_id", key.RequestID,
		)
		if c.hooks.OnStaleDiscard != nil {
			c.hooks.OnStaleDiscard()
		}
		return
	}
	c.inflight.cancel()
	c.inflight = nil
	if err != nil {
		c.state = StateFailed
	} else {
		c.state = StateReady
		c.analysis = &a
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Error(ctx, err, "triage failed", "signal_id", key.SignalID, "request_id", key.RequestID)
		if c.hooks.OnFailed != nil {
			c.hooks.OnFailed()
		}
		return
	}
	c.logger.Info(ctx, "triage applied",
		"signal_id", key.SignalID,
		"request_id", key.RequestID,
		"origin", a.Origin,
	)
}
