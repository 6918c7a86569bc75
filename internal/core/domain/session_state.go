package domain

// SessionState describes the lifecycle position of one
// (service, integration) connection.
type SessionState string

const (
	// StateUnauthenticated means no token record is present.
	StateUnauthenticated SessionState = "unauthenticated"
	// StateAuthorizing means a pending authorization exists and the browser
	// hand-off is in progress.
	StateAuthorizing SessionState = "authorizing"
	// StateAuthenticated means a valid token record is present and more
	// than the refresh buffer away from expiry.
	StateAuthenticated SessionState = "authenticated"
	// StateExpiring means the token record is within the refresh buffer of
	// its expiry.
	StateExpiring SessionState = "expiring"
	// StateRefreshing means a refresh exchange is in flight.
	StateRefreshing SessionState = "refreshing"
	// StateDisconnected is terminal; the token record has been deleted.
	StateDisconnected SessionState = "disconnected"
)

// Connected returns true for states in which a token record exists.
func (s SessionState) Connected() bool {
	switch s {
	case StateAuthenticated, StateExpiring, StateRefreshing:
		return true
	default:
		return false
	}
}
