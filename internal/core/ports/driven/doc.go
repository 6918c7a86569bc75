// Package driven defines the outbound ports of the OAuth engine: the
// interfaces the core services depend on for token exchange, credential
// persistence, backend notification, and the browser hand-off.
// Adapters under internal/adapters/driven implement them.
package driven
