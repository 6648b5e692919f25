// Package notify is the boundary to the email/SMS delivery collaborator.
// Delivery itself happens elsewhere; auth operations fire and forget.
package notify

import (
	"context"
	"log/slog"
)

type Notifier interface {
	SendMFACode(ctx context.Context, email, code string) error
	SendSecurityAlert(ctx context.Context, email, event string) error
	SendPasswordReset(ctx context.Context, email, token string) error
	SendEmailVerification(ctx context.Context, email, token string) error
}

// LogNotifier stands in when no delivery backend is configured. It keeps
// the contract (and the audit trail) without sending anything.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendMFACode(ctx context.Context, email, code string) error {
	n.logger.InfoContext(ctx, "mfa code issued", "email", email, "code_len", len(code))
	return nil
}

func (n *LogNotifier) SendSecurityAlert(ctx context.Context, email, event string) error {
	n.logger.InfoContext(ctx, "security alert", "email", email, "alert", event)
	return nil
}

func (n *LogNotifier) SendPasswordReset(ctx context.Context, email, token string) error {
	n.logger.InfoContext(ctx, "password reset issued", "email", email, "token_len", len(token))
	return nil
}

func (n *LogNotifier) SendEmailVerification(ctx context.Context, email, token string) error {
	n.logger.InfoContext(ctx, "email verification issued", "email", email, "token_len", len(token))
	return nil
}
