// ABOUTME: Ed25519 mesh identities: key generation, signing, and verification.
// ABOUTME: Accepts ssh-ed25519 authorized_keys lines so operators can reuse SSH keys.

package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Identity errors
var (
	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrBadSignature     = errors.New("signature verification failed")
)

// Identity is an ed25519 keypair identifying a peer on the mesh.
type Identity struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// Generate creates a new random identity.
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating keypair: %w", err)
	}
	return &Identity{priv: priv, pub: pub}, nil
}

// FromSeedHex reconstructs an identity from a hex-encoded 32-byte seed.
func FromSeedHex(seedHex string) (*Identity, error) {
	seed, err := hex.DecodeString(strings.TrimSpace(seedHex))
	if err != nil {
		return nil, fmt.Errorf("decoding seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Identity{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// Load reads a hex seed keyfile written by Save.
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading keyfile: %w", err)
	}
	return FromSeedHex(string(data))
}

// Save writes the identity's seed as hex, creating parent directories.
// The keyfile is written with owner-only permissions.
func (id *Identity) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating keyfile directory: %w", err)
	}
	seedHex := hex.EncodeToString(id.priv.Seed())
	if err := os.WriteFile(path, []byte(seedHex+"\n"), 0600); err != nil {
		return fmt.Errorf("writing keyfile: %w", err)
	}
	return nil
}

// PublicKeyHex returns the lowercase hex encoding of the public key.
func (id *Identity) PublicKeyHex() string {
	return hex.EncodeToString(id.pub)
}

// Address returns the peer's mesh address: the SHA256 fingerprint of the
// public key, lowercase hex without separators.
func (id *Identity) Address() string {
	return AddressForKey(id.pub)
}

// Sign signs message and returns the signature as lowercase hex.
func (id *Identity) Sign(message []byte) string {
	return hex.EncodeToString(ed25519.Sign(id.priv, message))
}

// AddressForKey computes the mesh address for a raw ed25519 public key.
func AddressForKey(pub ed25519.PublicKey) string {
	hash := sha256.Sum256(pub)
	return hex.EncodeToString(hash[:])
}

// ParsePublicKeyHex decodes a lowercase hex ed25519 public key.
func ParsePublicKeyHex(pubHex string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(pubHex))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidPublicKey, ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// Verify checks sigHex over message against the hex-encoded public key.
// Returns nil only when the signature is valid.
func Verify(pubKeyHex string, message []byte, sigHex string) error {
	pub, err := ParsePublicKeyHex(pubKeyHex)
	if err != nil {
		return err
	}

	sig, err := hex.DecodeString(strings.TrimSpace(sigHex))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, ed25519.SignatureSize, len(sig))
	}

	if !ed25519.Verify(pub, message, sig) {
		return ErrBadSignature
	}
	return nil
}

// ParseAuthorizedKey converts an OpenSSH "ssh-ed25519 AAAA..." public key
// line into the mesh's lowercase hex key form. Other key types are rejected.
func ParseAuthorizedKey(line string) (pubKeyHex string, err error) {
	sshPub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	cryptoPub, ok := sshPub.(ssh.CryptoPublicKey)
	if !ok {
		return "", fmt.Errorf("%w: unsupported key type %s", ErrInvalidPublicKey, sshPub.Type())
	}
	edPub, ok := cryptoPub.CryptoPublicKey().(ed25519.PublicKey)
	if !ok {
		return "", fmt.Errorf("%w: only ssh-ed25519 keys are supported, got %s", ErrInvalidPublicKey, sshPub.Type())
	}

	return hex.EncodeToString(edPub), nil
}
