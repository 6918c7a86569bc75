// Package driving defines the inbound ports of the OAuth engine: the
// interfaces the CLI and deep-link adapters call to start authorizations,
// route callbacks, and read tokens.
package driving
