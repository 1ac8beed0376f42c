// Package identity manages ed25519 node keypairs, on-disk key storage, and
// the fingerprint-derived addresses used to identify peers on the mesh.
package identity
