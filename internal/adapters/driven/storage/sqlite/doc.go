// Package sqlite provides the persistent credential store. Token records
// are sealed with XChaCha20-Poly1305 before they reach the database file, so
// credentials are encrypted at rest.
//
// This is the documented fallback for platforms without an OS keystore: the
// key file and database are private to the application user (0600/0700) but
// not hardware-isolated. Callers must not assume enclave-level
// confidentiality from this store.
package sqlite
