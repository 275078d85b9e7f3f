// Package chat turns the IRC event stream into channel logs.
//
// It provides two pieces:
//   - Router: maps protocol events onto the roster, the session hooks and
//     human-readable log lines ("*** alice has joined #go", "<alice> hi").
//   - Recorder: the dispatcher loop. It owns the single goroutine that
//     consumes connection events, session timers and routing, so the
//     session, the roster and the log sinks see events one at a time in
//     arrival order. Recorder implements suture.Service.
//
// Private messages to the bot are never logged; events for channels that
// are not configured are ignored.
package chat
