// Package transport provides the engine.Transport adapters: TCP streams,
// UDP sockets (with multicast), child processes and SSH channels.
//
// Each adapter owns at most one live session. Connect opens a new session,
// replacing any previous one, and Close ends it; both may be repeated for
// the life of the adapter so a supervisor can reconnect indefinitely.
package transport
