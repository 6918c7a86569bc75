// Package domain contains the core types for the Sonara Link OAuth engine:
// service configurations, token records, pending authorization state, and
// the error taxonomy shared across services and adapters.
//
// Types in this package are pure data. They never perform I/O.
package domain
