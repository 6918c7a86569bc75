package driven

import "context"

// CompletionNotifier reports auth lifecycle results to the backend
// integration-management API.
//
// Calls are best-effort from the engine's perspective: the session manager
// invokes them after the local state transition has committed, logs
// failures, and never rolls back a successful authentication because a
// notification failed.
type CompletionNotifier interface {
	// NotifyComplete reports a finished authorization. params carries
	// service-specific completion fields (granted scope, workspace id).
	NotifyComplete(ctx context.Context, integrationID, service string, params map[string]any) error

	// NotifyDisconnect reports that an integration was disconnected.
	NotifyDisconnect(ctx context.Context, integrationID, service string) error
}
