package triage

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/opsfocus/internal/signal"
)

var tracer = otel.Tracer("github.com/linnemanlabs/opsfocus/internal/triage")

const (
	// DefaultTimeout bounds one live analysis call.
	DefaultTimeout = 30 * time.Second

	// DefaultMockLatency is the simulated request latency of the mock path.
	DefaultMockLatency = 1500 * time.Millisecond
)

// Completion reasons reported to Hooks.OnComplete.
const (
	ReasonOK        = "ok"
	ReasonTransport = "transport"
	ReasonTimeout   = "timeout"
	ReasonCanceled  = "canceled"
	ReasonMalformed = "malformed"
)

// Classifier produces an Analysis for one signal. Implementations never fail:
// every error resolves to Fallback().
type Classifier interface {
	Analyze(ctx context.Context, sig *signal.Signal) Analysis
}

// Hooks receives instrumentation callbacks. All fields are optional.
type Hooks struct {
	OnLLMCall  func(inputTokens, outputTokens int, duration float64)
	OnComplete func(origin Origin, reason string, duration float64)
}

func (h Hooks) complete(origin Origin, reason string, start time.Time) {
	if h.OnComplete != nil {
		h.OnComplete(origin, reason, time.Since(start).Seconds())
	}
}

// LiveClassifier asks a Provider for the analysis with a single attempt.
type LiveClassifier struct {
	provider Provider
	timeout  time.Duration
	logger   log.Logger
	hooks    Hooks
}

// NewLive returns a classifier backed by provider. A non-positive timeout
// selects DefaultTimeout.
func NewLive(provider Provider, timeout time.Duration, logger log.Logger, hooks Hooks) *LiveClassifier {
	if provider == nil {
		panic(xerrors.New("triage.NewLive: provider is nil"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &LiveClassifier{provider: provider, timeout: timeout, logger: logger, hooks: hooks}
}

// Analyze implements Classifier.
func (c *LiveClassifier) Analyze(ctx context.Context, sig *signal.Signal) Analysis {
	start := time.Now()
	if sig == nil {
		c.hooks.complete(OriginFallback, ReasonMalformed, start)
		return Fallback()
	}

	ctx, span := tracer.Start(ctx, "triage.Analyze", trace.WithAttributes(
		attribute.String("opsfocus.signal.id", sig.ID),
		attribute.String("opsfocus.signal.source", string(sig.Source)),
		attribute.String("opsfocus.triage.path", string(OriginLive)),
	))
	defer span.End()

	L := c.logger.With("signal_id", sig.ID)

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	llmStart := time.Now()
	resp, err := c.provider.Send(callCtx, buildRequest(sig))
	llmDur := time.Since(llmStart).Seconds()
	if err != nil {
		reason := ReasonTransport
		switch {
		case ctx.Err() != nil:
			// caller moved on; the result will be discarded anyway
			reason = ReasonCanceled
			L.Info(ctx, "triage call abandoned", "duration", llmDur)
		case errors.Is(err, context.DeadlineExceeded):
			reason = ReasonTimeout
			L.Warn(ctx, "triage call timed out", "timeout", c.timeout.Seconds())
		default:
			L.Error(ctx, err, "triage call failed")
		}
		return c.fail(span, err, reason, start)
	}

	if resp == nil {
		resp = &LLMResponse{}
	}
	if c.hooks.OnLLMCall != nil {
		c.hooks.OnLLMCall(resp.Usage.InputTokens, resp.Usage.OutputTokens, llmDur)
	}

	a, err := ParseResponse(resp)
	if err != nil {
		L.Warn(ctx, "discarding malformed triage response",
			"err", err.Error(),
			"stop_reason", resp.StopReason,
		)
		return c.fail(span, err, ReasonMalformed, start)
	}

	span.SetAttributes(
		attribute.String("opsfocus.triage.origin", string(a.Origin)),
		attribute.String("opsfocus.triage.itil", string(a.ITILClassification)),
		attribute.Float64("opsfocus.triage.confidence", a.ConfidenceScore),
		attribute.Int("opsfocus.triage.tokens_in", resp.Usage.InputTokens),
		attribute.Int("opsfocus.triage.tokens_out", resp.Usage.OutputTokens),
	)
	L.Info(ctx, "triage complete",
		"model", resp.Model,
		"itil", a.ITILClassification,
		"confidence", a.ConfidenceScore,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"duration", time.Since(start).Seconds(),
	)
	c.hooks.complete(OriginLive, ReasonOK, start)
	return a
}

func (c *LiveClassifier) fail(span trace.Span, err error, reason string, start time.Time) Analysis {
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
	span.SetAttributes(attribute.String("opsfocus.triage.origin", string(OriginFallback)))
	c.hooks.complete(OriginFallback, reason, start)
	return Fallback()
}

// MockClassifier serves MockAnalysis after a simulated latency without any
// network access. It is selected when no credential is configured.
type MockClassifier struct {
	latency time.Duration
	hooks   Hooks
}

// NewMock returns a mock classifier. A non-positive latency selects DefaultMockLatency.
func NewMock(latency time.Duration, hooks Hooks) *MockClassifier {
	if latency <= 0 {
		latency = DefaultMockLatency
	}
	return &MockClassifier{latency: latency, hooks: hooks}
}

// Latency returns the simulated delay.
func (c *MockClassifier) Latency() time.Duration { return c.latency }

// Analyze implements Classifier. Cancellation during the delay yields Fallback().
func (c *MockClassifier) Analyze(ctx context.Context, _ *signal.Signal) Analysis {
	start := time.Now()
	_, span := tracer.Start(ctx, "triage.Analyze", trace.WithAttributes(
		attribute.String("opsfocus.triage.path", string(OriginMock)),
	))
	defer span.End()

	t := time.NewTimer(c.latency)
	defer t.Stop()

	select {
	case <-t.C:
		c.hooks.complete(OriginMock, ReasonOK, start)
		return MockAnalysis()
	case <-ctx.Done():
		span.SetStatus(codes.Error, ReasonCanceled)
		c.hooks.complete(OriginFallback, ReasonCanceled, start)
		return Fallback()
	}
}
