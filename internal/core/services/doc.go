// Package services implements the core of the Sonara Link OAuth engine: the
// service registry, the session manager state machine, and the callback
// router. Everything provider-specific lives in configuration; the engine
// itself is generic across all supported services.
package services
