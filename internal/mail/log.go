package mail

import (
	"context"
	"log/slog"
)

// LogMailer only records that a message would have been sent. Template data
// carries token links, so it is not logged.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.logger.InfoContext(ctx, "mail queued",
		"template", msg.Template,
		"to", msg.To,
		"subject", msg.Subject,
	)
	return nil
}
