package ports

import "context"

// NotifyLevel selects the prefix/formatting of an outbound notification.
type NotifyLevel string

const (
	NotifyInfo    NotifyLevel = "info"
	NotifySuccess NotifyLevel = "success"
	NotifyError   NotifyLevel = "error"
)

// Notifier delivers best-effort, fire-and-forget notifications.
// Implementations must never block trade execution: delivery failures are
// logged and dropped.
type Notifier interface {
	Notify(ctx context.Context, level NotifyLevel, msg string)
}

// NoopNotifier is used when no notification channel is configured.
type NoopNotifier struct{}

func (NoopNotifier) Notify(ctx context.Context, level NotifyLevel, msg string) {}
