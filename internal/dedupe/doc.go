// Package dedupe provides a time-based cache for suppressing duplicates,
// used for invite nonce tracking and repeated broadcast frames.
package dedupe
