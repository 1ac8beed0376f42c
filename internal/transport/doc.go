// Package transport defines the broadcast boundary the node speaks through
// and provides an in-process loopback bus for tests and single-host runs.
package transport
