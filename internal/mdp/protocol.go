// Package mdp implements the Majordomo Protocol v0.1 (RFC-7): a
// service-addressed request/reply message bus over ZeroMQ ROUTER/DEALER
// sockets. It provides three collaborators — Broker, Worker, and Client —
// that together let a fixed pool of worker processes register under named
// services and receive load-balanced requests from clients, with
// heartbeat-driven liveness and automatic reconnection.
//
// Frames are opaque byte strings; this package never parses them as text
// except for the two protocol-family tags and the five single-byte worker
// commands, all of which are frame-equality checks.
package mdp

import "time"

// Protocol family frames. These are the third frame of every message
// exchanged with the broker, identifying which side of the protocol sent it.
var (
	clientProtocol = []byte("MDPC01")
	workerProtocol = []byte("MDPW01")
)

// Worker commands. Single-byte frames following the protocol-family frame
// in every worker <-> broker message.
var (
	cmdReady      = []byte{0x01}
	cmdRequest    = []byte{0x02}
	cmdReply      = []byte{0x03}
	cmdHeartbeat  = []byte{0x04}
	cmdDisconnect = []byte{0x05}
)

func commandName(cmd []byte) string {
	switch {
	case bytesEqual(cmd, cmdReady):
		return "READY"
	case bytesEqual(cmd, cmdRequest):
		return "REQUEST"
	case bytesEqual(cmd, cmdReply):
		return "REPLY"
	case bytesEqual(cmd, cmdHeartbeat):
		return "HEARTBEAT"
	case bytesEqual(cmd, cmdDisconnect):
		return "DISCONNECT"
	default:
		return "UNKNOWN"
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// internalServicePrefix marks services handled inline by the broker instead
// of being dispatched to a worker (the "mmi." diagnostic namespace).
const internalServicePrefix = "mmi."

// Timing parameters shared by the broker and the worker side of the
// protocol. These are compile-time constants of the protocol, not
// runtime configuration — RFC-7 fixes them to keep broker and worker
// implementations interoperable regardless of language.
const (
	// HeartbeatInterval is how often an idle peer sends a HEARTBEAT frame.
	HeartbeatInterval = 2500 * time.Millisecond

	// HeartbeatLiveness is the number of missed heartbeat windows tolerated
	// before a peer is presumed dead.
	HeartbeatLiveness = 3

	// HeartbeatExpiry is the derived deadline: liveness missed intervals.
	HeartbeatExpiry = HeartbeatLiveness * HeartbeatInterval

	// ReconnectDelay is the fixed pause a worker takes before re-dialing the
	// broker after its liveness counter reaches zero. Unlike the backing
	// stack's gRPC reconnect logic, this is a single fixed delay, not an
	// exponential backoff — RFC-7 specifies a flat reconnect interval equal
	// to the heartbeat interval.
	ReconnectDelay = 2500 * time.Millisecond

	// DefaultClientTimeout is the client's default wait for a single reply.
	DefaultClientTimeout = 2500 * time.Millisecond
)
