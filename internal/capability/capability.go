// ABOUTME: Signed invite/welcome capabilities gating channel admission.
// ABOUTME: Defines the payload types, signing versions, and sentinel errors.

package capability

import "errors"

// Capability payload versions. Bump when a payload gains or loses fields so
// verifiers can reject encodings they don't understand.
const (
	InviteVersion  = 1
	WelcomeVersion = 1
)

// Capability errors
var (
	ErrNoTTL           = errors.New("invite TTL not configured")
	ErrInvalidInvite   = errors.New("invalid invite")
	ErrExpiredInvite   = errors.New("invite expired")
	ErrWrongChannel    = errors.New("invite is for a different channel")
	ErrNotInvitee      = errors.New("invite was issued to a different key")
	ErrInviteReplayed  = errors.New("invite nonce already used")
	ErrAdmissionDenied = errors.New("admission denied")
	ErrInvalidWelcome  = errors.New("invalid welcome")
)

// InvitePayload is the signed body of a channel invite. Timestamps are
// millisecond epochs carried as integers so the canonical encoding is
// identical on the signer and verifier sides.
type InvitePayload struct {
	Channel        string  `json:"channel"`
	InviteePubKey  string  `json:"inviteePubKey"`
	InviterPubKey  string  `json:"inviterPubKey"`
	InviterAddress *string `json:"inviterAddress"`
	IssuedAt       int64   `json:"issuedAt"`
	ExpiresAt      int64   `json:"expiresAt"`
	Nonce          string  `json:"nonce"`
	Version        int     `json:"version"`
}

// Invite wraps a payload with its detached signature and, optionally, the
// channel's current welcome so the invitee sees it before joining.
type Invite struct {
	Payload InvitePayload `json:"payload"`
	Sig     string        `json:"sig"`
	Welcome *Welcome      `json:"welcome,omitempty"`
}

// WelcomePayload is the signed body of a channel welcome message.
type WelcomePayload struct {
	Channel     string `json:"channel"`
	OwnerPubKey string `json:"ownerPubKey"`
	Text        string `json:"text"`
	IssuedAt    int64  `json:"issuedAt"`
	Version     int    `json:"version"`
}

// Welcome is an advisory onboarding message. It is never an admission
// credential; only invites admit.
type Welcome struct {
	Payload WelcomePayload `json:"payload"`
	Sig     string         `json:"sig"`
}

// Policy controls admission to a named channel. The zero value admits
// everyone; RequireInvite demands a verified invite for the requesting key,
// and SingleUse additionally burns each invite nonce on first admission.
type Policy struct {
	RequireInvite bool
	SingleUse     bool
}
