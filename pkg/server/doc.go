// Package server hosts the authoritative side of a sigsync deployment.
//
// A Hub is a signals.Transport whose far end is every connected WebSocket
// peer. Sends from the host context go to all peers. A message from one
// peer is applied to the host context and relayed to the other peers, but
// never echoed back to its sender. A newly attached peer first receives a
// replay of every host signal, as a signal-created followed by a
// signal-update with the same value, and then a ready marker.
//
// Peers read on their own goroutines. The host context applies what they
// send on a single apply loop, so computeds on the host see one write at
// a time.
//
// Server puts a Hub behind a chi router:
//
//	GET /sync      WebSocket endpoint for peers
//	GET /signals   JSON snapshot of host signal values
//	GET /healthz   liveness plus peer count
//	GET /metrics   Prometheus exposition (when a gatherer is configured)
package server
