package connmgr

import "github.com/arborwatch/ecosim/internal/packet"

// IsValidFromClient reports whether tag is an acceptable packet for a
// connection currently in state. Debug is always accepted; everything
// else is gated to the one state it makes sense in. A tag rejected here
// is not a decode error — the frame parsed fine, the client just used
// it out of turn — and TryReadOne drops it without changing the
// connection's state or its violation count.
func IsValidFromClient(state StateKind, tag packet.Tag) bool {
	if tag == packet.TagDebug {
		return true
	}
	switch tag {
	case packet.TagRequestNewSession, packet.TagAttemptAuthSession:
		return state == NoAuth
	case packet.TagRequestDownloadWorld, packet.TagRequestPlaceTree:
		return state == Ready
	default:
		return false
	}
}
