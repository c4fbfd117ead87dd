// Package session drives one chunked transmission over a constrained link.
//
// Ownership boundary:
// - the Idle/Building/Sending/AwaitingAck/Retrying/Completed/Failed machine
// - write id correlation of link completions
// - ack timeout, retry delay, and inter-chunk pacing via an injected clock
// - the render/wrap/frame pipeline that turns a chunk into one link write
//
// One chunk is in flight at a time. A link disconnect or a Cancel ends the
// transmission immediately; every other per-chunk failure goes through the
// retry path.
package session
