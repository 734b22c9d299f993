// Package notify publishes run lifecycle events to NATS. Notifications
// are best effort: a failed publish is logged as a warning and never
// fails the run.
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/cirunner/internal/config"
	"git.home.luguber.info/inful/cirunner/internal/logfields"
	"git.home.luguber.info/inful/cirunner/internal/runner"
)

// Publisher publishes run events on a NATS subject. A nil Publisher is
// valid and publishes nothing, so callers can wire it unconditionally.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

// NewPublisher connects to NATS using the descriptor's notification
// settings.
func NewPublisher(cfg *config.NotificationsConfig) (*Publisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("notifications config is required")
	}

	conn, err := nats.Connect(cfg.NATSURL,
		nats.Name("cirunner"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(3),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	slog.Info("NATS notifications enabled",
		logfields.URL(cfg.NATSURL),
		slog.String("subject", cfg.Subject))

	return &Publisher{conn: conn, subject: cfg.Subject}, nil
}

// RunStarted publishes a run.started event.
func (p *Publisher) RunStarted(runID, branch, commit, runtime string) {
	if p == nil {
		return
	}
	p.publish("started", startedEvent(runID, branch, commit, runtime))
}

// RunFinished publishes a run.finished event for a completed run.
func (p *Publisher) RunFinished(run *runner.RunResult) {
	if p == nil {
		return
	}
	p.publish("finished", finishedEvent(run))
}

// publish sends the event on "<base subject>.<suffix>".
func (p *Publisher) publish(suffix string, event RunEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Warn("Failed to marshal run event", logfields.Error(err))
		return
	}

	subject := p.subject + "." + suffix
	if err := p.conn.Publish(subject, data); err != nil {
		slog.Warn("Failed to publish run event",
			slog.String("subject", subject),
			logfields.Error(err))
		return
	}

	slog.Debug("Published run event",
		slog.String("subject", subject),
		logfields.RunID(event.RunID))
}

// Close flushes pending events and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	_ = p.conn.Flush()
	p.conn.Close()
}
