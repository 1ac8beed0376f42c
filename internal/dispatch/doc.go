// Package dispatch routes JSON-RPC 2.0 requests to registered tool handlers.
//
// # Message handling
//
// HandleMessage parses an incoming payload, looks up the method in the tool
// table, and returns a response envelope. Unknown methods produce code
// -32601; handler failures produce code -32000 with the error text as the
// message. Notifications (no id member) are ignored outright. A
// present-but-null id is still a request and gets a response with a null id.
// Successful responses always carry a result member, null when the handler
// returned nothing. With duplicate suppression enabled, a re-delivered
// frame is answered with its original envelope instead of a second handler
// execution; the sender's key is part of the frame identity because request
// ids are only unique per requester.
//
// # Publication
//
// Tools registered with metadata are announced to a Publisher (the service
// registry) asynchronously. Publication is best effort: a failure is logged
// and never blocks or fails the registration.
package dispatch
