// Package slack posts escalations and digests to Slack via incoming webhooks.
package slack

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/opsfocus/internal/signal"
	"github.com/linnemanlabs/opsfocus/internal/triage"
)

const (
	maxHeaderLen  = 150
	maxBodyLen    = 2500
	maxDigestRows = 20
	httpTimeout   = 10 * time.Second
)

// Notifier sends messages to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a Slack notifier. If webhookURL is empty, every send is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// SendEscalation posts a signal and, when present, its triage analysis.
func (n *Notifier) SendEscalation(ctx context.Context, sig *signal.Signal, a *triage.Analysis) error {
	if n.webhookURL == "" {
		return nil
	}
	return n.post(ctx, &slack.WebhookMessage{
		Text:   fmt.Sprintf("Escalated %s: %s", sig.CalculatedSeverity, sig.Subject),
		Blocks: &slack.Blocks{BlockSet: escalationBlocks(sig, a)},
	})
}

// SendDigest posts the list of signals that currently need attention.
func (n *Notifier) SendDigest(ctx context.Context, signals []signal.Signal, now time.Time) error {
	if n.webhookURL == "" {
		return nil
	}
	return n.post(ctx, &slack.WebhookMessage{
		Text:   fmt.Sprintf("Ops focus digest: %d active critical signal(s)", len(signals)),
		Blocks: &slack.Blocks{BlockSet: digestBlocks(signals, now)},
	})
}

func (n *Notifier) post(ctx context.Context, msg *slack.WebhookMessage) error {
	//nolint:gosec // G107: webhookURL is from trusted config, not user input
	if err := slack.PostWebhookCustomHTTPContext(ctx, n.webhookURL, n.client, msg); err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	n.logger.Info(ctx, "slack message posted", "text", msg.Text)
	return nil
}

func escalationBlocks(sig *signal.Signal, a *triage.Analysis) []slack.Block {
	header := fmt.Sprintf("%s %s escalated: %s", severityEmoji(sig.CalculatedSeverity), sig.CalculatedSeverity, sig.Subject)

	fields := []*slack.TextBlockObject{
		mrkdwn(fmt.Sprintf("*Source:* %s", sig.Source)),
		mrkdwn(fmt.Sprintf("*Status:* %s", sig.Status)),
		mrkdwn(fmt.Sprintf("*Raw severity:* %s", orDash(sig.RawSeverity))),
		mrkdwn(fmt.Sprintf("*Tags:* %s", orDash(strings.Join(sig.Tags, ", ")))),
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(plain(truncate(header, maxHeaderLen))),
		slack.NewSectionBlock(nil, fields, nil),
		slack.NewDividerBlock(),
		slack.NewSectionBlock(mrkdwn(truncate(orDash(sig.Body), maxBodyLen)), nil, nil),
		slack.NewDividerBlock(),
		analysisBlock(a),
		slack.NewContextBlock("",
			mrkdwn(fmt.Sprintf("opsfocus • signal %s • %s", sig.ID, sig.Timestamp.UTC().Format("2006-01-02 15:04 UTC"))),
		),
	}
	return blocks
}

func analysisBlock(a *triage.Analysis) slack.Block {
	if a == nil {
		return slack.NewSectionBlock(mrkdwn("*AI triage*\n\n_No analysis available._"), nil, nil)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*AI triage* (%s, %s, confidence %.0f%%)\n\n", a.ITILClassification, a.Origin, a.ConfidenceScore*100)
	fmt.Fprintf(&b, "%s\n\n*Root cause:* %s\n", a.Summary, a.RootCauseHypothesis)
	for i, act := range a.RecommendedActions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, act)
	}
	return slack.NewSectionBlock(mrkdwn(truncate(b.String(), maxBodyLen)), nil, nil)
}

func digestBlocks(signals []signal.Signal, now time.Time) []slack.Block {
	blocks := []slack.Block{
		slack.NewHeaderBlock(plain(fmt.Sprintf("Ops focus digest: %d active critical", len(signals)))),
	}
	if len(signals) == 0 {
		blocks = append(blocks, slack.NewSectionBlock(mrkdwn("_Nothing needs attention._"), nil, nil))
	}
	for i := range signals {
		if i == maxDigestRows {
			blocks = append(blocks, slack.NewContextBlock("",
				mrkdwn(fmt.Sprintf("…and %d more", len(signals)-maxDigestRows))))
			break
		}
		s := &signals[i]
		line := fmt.Sprintf("%s *%s* %s\n%s • %s • %s ago",
			severityEmoji(s.CalculatedSeverity), s.CalculatedSeverity, s.Subject,
			s.Source, s.Status, now.Sub(s.Timestamp).Truncate(time.Minute))
		blocks = append(blocks, slack.NewSectionBlock(mrkdwn(truncate(line, maxBodyLen)), nil, nil))
	}
	blocks = append(blocks, slack.NewContextBlock("",
		mrkdwn(fmt.Sprintf("opsfocus • %s", now.UTC().Format("2006-01-02 15:04 UTC")))))
	return blocks
}

func plain(s string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.PlainTextType, s, false, false)
}

func mrkdwn(s string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, s, false, false)
}

func severityEmoji(s signal.Severity) string {
	switch s {
	case signal.SeverityP1:
		return "\U0001f534" // red circle
	case signal.SeverityP2:
		return "\U0001f7e0" // orange circle
	case signal.SeverityP3:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}
