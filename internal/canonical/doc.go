// Package canonical produces a deterministic JSON encoding used as the
// input to signature creation and verification.
package canonical
