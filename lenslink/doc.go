// Package lenslink provides a Go client for the LensLink cloud session
// protocol. An app holds one Session per logical connection, receives typed
// real-time stream events, and pushes display output back to the cloud.
//
// The primary lifecycle is:
//   - construct a Session with NewSession
//   - register event handlers (OnTranscription, OnHeadPosition, ...)
//   - Connect with the externally assigned session id
//   - Disconnect when finished
//
// Registering the first handler for a stream type subscribes the session to
// that stream; the full subscription list is pushed to the cloud whenever it
// changes. Inbound dispatch never propagates a failure out of the read path:
// malformed frames, unrecognized types, and handler panics all degrade to
// error events.
//
// Errors are reported as typed errors created with NewError and may wrap
// transport, protocol, validation, timeout, or disconnect causes.
package lenslink
