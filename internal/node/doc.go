// Package node assembles identity, storage, the service registry, channel
// admission, and the dispatcher into a runnable mesh node.
package node
