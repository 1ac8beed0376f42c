// ABOUTME: Keeper issues invites and welcomes and decides channel admission.
// ABOUTME: Welcomes and policies are process-local state keyed by channel name.

package capability

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonklabs/toolmesh/internal/canonical"
	"github.com/tonklabs/toolmesh/internal/dedupe"
	"github.com/tonklabs/toolmesh/internal/identity"
)

// nonceCacheSize bounds the single-use nonce ledger.
const nonceCacheSize = 10000

// Keeper holds per-channel admission policies and welcome messages and
// performs capability issuance and verification.
type Keeper struct {
	defaultTTL time.Duration
	logger     *slog.Logger

	mu       sync.RWMutex
	welcomes map[string]*Welcome
	policies map[string]Policy

	// usedNonces backs single-use policies. Each nonce is held for its
	// invite's remaining validity, so a burn never lapses before the
	// invite does.
	usedNonces *dedupe.Cache
}

// Option configures a Keeper.
type Option func(*Keeper)

// WithDefaultTTL sets the TTL used when IssueInvite is called with ttl==0.
// Without it, an invite request carrying no TTL fails with ErrNoTTL.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(k *Keeper) { k.defaultTTL = ttl }
}

// NewKeeper creates a Keeper with no channel policies configured.
func NewKeeper(logger *slog.Logger, opts ...Option) *Keeper {
	k := &Keeper{
		logger:     logger.With("component", "capability"),
		welcomes:   make(map[string]*Welcome),
		policies:   make(map[string]Policy),
		usedNonces: dedupe.New(24*time.Hour, nonceCacheSize),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// SetPolicy configures the admission policy for a channel. Channels without
// a policy admit everyone.
func (k *Keeper) SetPolicy(channel string, policy Policy) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.policies[channel] = policy
}

// IssueInvite builds, signs, and returns an invite admitting inviteePubKey
// to channel. ttl==0 falls back to the configured default TTL; if neither is
// set the invite is refused rather than issued without an expiry.
// The channel's current welcome, if any, is embedded for the invitee.
func (k *Keeper) IssueInvite(channel, inviteePubKeyHex string, ttl time.Duration, inviter *identity.Identity) (*Invite, error) {
	if ttl == 0 {
		if k.defaultTTL == 0 {
			return nil, ErrNoTTL
		}
		ttl = k.defaultTTL
	}

	if _, err := identity.ParsePublicKeyHex(inviteePubKeyHex); err != nil {
		return nil, fmt.Errorf("invitee key: %w", err)
	}

	now := time.Now()
	addr := inviter.Address()
	payload := InvitePayload{
		Channel:        channel,
		InviteePubKey:  inviteePubKeyHex,
		InviterPubKey:  inviter.PublicKeyHex(),
		InviterAddress: &addr,
		IssuedAt:       now.UnixMilli(),
		ExpiresAt:      now.Add(ttl).UnixMilli(),
		Nonce:          uuid.NewString(),
		Version:        InviteVersion,
	}

	signingInput, err := canonical.Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding invite payload: %w", err)
	}

	invite := &Invite{
		Payload: payload,
		Sig:     inviter.Sign([]byte(signingInput)),
		Welcome: k.WelcomeFor(channel),
	}

	k.logger.Info("invite issued",
		"channel", channel,
		"invitee", inviteePubKeyHex,
		"expires_at", payload.ExpiresAt,
	)
	return invite, nil
}

// IssueWelcome builds and signs a welcome message for channel and stores it
// so future invites and new joiners receive it without re-signing.
func (k *Keeper) IssueWelcome(channel, text string, owner *identity.Identity) (*Welcome, error) {
	payload := WelcomePayload{
		Channel:     channel,
		OwnerPubKey: owner.PublicKeyHex(),
		Text:        text,
		IssuedAt:    time.Now().UnixMilli(),
		Version:     WelcomeVersion,
	}

	signingInput, err := canonical.Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding welcome payload: %w", err)
	}

	welcome := &Welcome{
		Payload: payload,
		Sig:     owner.Sign([]byte(signingInput)),
	}

	k.mu.Lock()
	k.welcomes[channel] = welcome
	k.mu.Unlock()

	k.logger.Info("welcome issued", "channel", channel)
	return welcome, nil
}

// WelcomeFor returns the stored welcome for channel, or nil.
func (k *Keeper) WelcomeFor(channel string) *Welcome {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.welcomes[channel]
}

// VerifyInvite checks an invite's signature, channel binding, and expiry.
// Any failure rejects the invite outright; there is no partial trust.
func (k *Keeper) VerifyInvite(invite *Invite, expectedChannel string) error {
	if invite == nil {
		return ErrInvalidInvite
	}

	signingInput, err := canonical.Encode(invite.Payload)
	if err != nil {
		return fmt.Errorf("%w: encoding payload: %v", ErrInvalidInvite, err)
	}
	if err := identity.Verify(invite.Payload.InviterPubKey, []byte(signingInput), invite.Sig); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInvite, err)
	}

	if invite.Payload.Channel != expectedChannel {
		return fmt.Errorf("%w: invite for %q, expected %q", ErrWrongChannel, invite.Payload.Channel, expectedChannel)
	}

	if invite.Payload.ExpiresAt <= invite.Payload.IssuedAt {
		return fmt.Errorf("%w: expiry not after issuance", ErrInvalidInvite)
	}
	if time.Now().UnixMilli() >= invite.Payload.ExpiresAt {
		return ErrExpiredInvite
	}

	return nil
}

// VerifyWelcome checks a welcome's signature against its owner key.
func (k *Keeper) VerifyWelcome(welcome *Welcome) error {
	if welcome == nil {
		return ErrInvalidWelcome
	}

	signingInput, err := canonical.Encode(welcome.Payload)
	if err != nil {
		return fmt.Errorf("%w: encoding payload: %v", ErrInvalidWelcome, err)
	}
	if err := identity.Verify(welcome.Payload.OwnerPubKey, []byte(signingInput), welcome.Sig); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWelcome, err)
	}
	return nil
}

// Admit decides whether the peer holding requesterPubKey may join or
// broadcast on channel. Channels with no policy admit everyone. When the
// policy requires invites, a verified, unexpired invite naming exactly this
// requester is required; a mismatched or expired invite is rejected, never
// downgraded to open access.
func (k *Keeper) Admit(channel, requesterPubKeyHex string, invite *Invite) error {
	k.mu.RLock()
	policy, configured := k.policies[channel]
	k.mu.RUnlock()

	if !configured || !policy.RequireInvite {
		return nil
	}

	if invite == nil {
		k.logger.Warn("admission denied: no invite", "channel", channel, "requester", requesterPubKeyHex)
		return fmt.Errorf("%w: channel %q requires an invite", ErrAdmissionDenied, channel)
	}

	if err := k.VerifyInvite(invite, channel); err != nil {
		k.logger.Warn("admission denied: invite rejected",
			"channel", channel,
			"requester", requesterPubKeyHex,
			"error", err,
		)
		return err
	}

	if invite.Payload.InviteePubKey != requesterPubKeyHex {
		k.logger.Warn("admission denied: invitee mismatch",
			"channel", channel,
			"requester", requesterPubKeyHex,
			"invitee", invite.Payload.InviteePubKey,
		)
		return ErrNotInvitee
	}

	if policy.SingleUse {
		// Burn the nonce for as long as the invite itself stays valid;
		// after that the expiry check rejects it anyway.
		nonceKey := channel + ":" + invite.Payload.InviterPubKey + ":" + invite.Payload.Nonce
		remaining := time.Until(time.UnixMilli(invite.Payload.ExpiresAt))
		if k.usedNonces.SeenFor(nonceKey, remaining) {
			return ErrInviteReplayed
		}
	}

	k.logger.Info("admission granted", "channel", channel, "requester", requesterPubKeyHex)
	return nil
}
