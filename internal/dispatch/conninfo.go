// ABOUTME: Connection info for tracking the requesting peer through tool handlers.
// ABOUTME: Provides WithConnInfo/ConnInfoFrom for propagation via context.

package dispatch

import "context"

// ConnInfo identifies the peer whose envelope is being handled. It is
// populated by the transport layer and retrievable inside tool handlers.
type ConnInfo struct {
	PeerPubKey  string // lowercase hex ed25519 key, empty if unauthenticated
	PeerAddress string // mesh address derived from the key
	Channel     string // channel the request arrived on
}

// connInfoKey is the key type for storing ConnInfo in context.Context.
type connInfoKey struct{}

// WithConnInfo returns a new context with the ConnInfo attached.
func WithConnInfo(ctx context.Context, info *ConnInfo) context.Context {
	return context.WithValue(ctx, connInfoKey{}, info)
}

// ConnInfoFrom retrieves the ConnInfo from the context, or nil.
func ConnInfoFrom(ctx context.Context) *ConnInfo {
	info, ok := ctx.Value(connInfoKey{}).(*ConnInfo)
	if !ok {
		return nil
	}
	return info
}
