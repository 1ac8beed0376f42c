// Package capability implements channel admission using signed invites and
// welcomes.
//
// # Credentials
//
// An invite is a canonical-JSON payload (channel, invitee key, inviter key,
// issue/expiry timestamps, nonce) signed by the inviter's ed25519 key. A
// welcome is the channel-side counterpart signed by a channel keyholder and
// may ride along inside an invite. Verification re-encodes the payload
// canonically and checks the detached hex signature, then the channel name,
// the time window, and the invitee binding.
//
// # Admission
//
// The Keeper tracks per-channel policies. An open channel admits anyone; a
// channel with RequireInvite demands a valid invite naming the joining key.
// SingleUse additionally burns the invite nonce in a TTL cache so the same
// invite cannot admit twice.
//
// # Transport encodings
//
// Invites and welcomes travel as base64 blobs. ResolveArg accepts the "b64:"
// prefix, an "@file" reference, or a literal JSON string, matching how
// operators pass credentials on the command line.
package capability
