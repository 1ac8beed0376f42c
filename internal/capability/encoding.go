// ABOUTME: Capability payload sourcing and JSON encode/decode helpers.
// ABOUTME: Resolves b64:-prefixed base64 and @-prefixed file arguments to raw JSON.

package capability

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

const b64Prefix = "b64:"

// ResolveArg turns a capability argument into raw JSON bytes. Arguments
// starting with "b64:" are base64-decoded, arguments starting with "@" are
// read from the named file, and anything else is taken as literal JSON.
func ResolveArg(arg string) ([]byte, error) {
	switch {
	case strings.HasPrefix(arg, b64Prefix):
		raw, err := base64.StdEncoding.DecodeString(arg[len(b64Prefix):])
		if err != nil {
			return nil, fmt.Errorf("decoding base64 capability: %w", err)
		}
		return raw, nil

	case strings.HasPrefix(arg, "@"):
		raw, err := os.ReadFile(arg[1:])
		if err != nil {
			return nil, fmt.Errorf("reading capability file: %w", err)
		}
		return raw, nil

	default:
		return []byte(arg), nil
	}
}

// ParseInviteArg resolves and unmarshals an invite argument.
func ParseInviteArg(arg string) (*Invite, error) {
	raw, err := ResolveArg(arg)
	if err != nil {
		return nil, err
	}

	var invite Invite
	if err := json.Unmarshal(raw, &invite); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInvite, err)
	}
	return &invite, nil
}

// ParseWelcomeArg resolves and unmarshals a welcome argument.
func ParseWelcomeArg(arg string) (*Welcome, error) {
	raw, err := ResolveArg(arg)
	if err != nil {
		return nil, err
	}

	var welcome Welcome
	if err := json.Unmarshal(raw, &welcome); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWelcome, err)
	}
	return &welcome, nil
}

// EncodeB64 marshals v and returns it in transportable b64: form.
func EncodeB64(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding capability: %w", err)
	}
	return b64Prefix + base64.StdEncoding.EncodeToString(raw), nil
}
