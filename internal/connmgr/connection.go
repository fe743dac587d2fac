package connmgr

import (
	"bufio"
	"encoding/binary"
	"net"
	"time"

	"github.com/eapache/queue"

	"github.com/arborwatch/ecosim/internal/simmsg"
	"github.com/arborwatch/ecosim/internal/wsproto"
)

// DefaultMaxFailedAuthAttempts is the number of protocol violations a
// single connection may accrue before the Network Worker forces it into
// AwaitingDeletion, used whenever a Manager isn't given an explicit
// limit via Manager.MaxFailedAuthAttempts (config.Config's
// MAX_FAILED_AUTH_ATTEMPTS knob).
const DefaultMaxFailedAuthAttempts = 100

// readBufferSize matches the teacher's IOBufferSize default: large
// enough that a Debug packet or an extended-length (126..65535 byte)
// frame never trips bufio's ErrBufferFull mid-assembly.
const readBufferSize = 72 * 1024

// nonBlockingReadBudget is the read deadline applied before each
// attempted Peek. Data already buffered by the kernel is read
// instantly; anything not yet arrived surfaces as a timeout, which
// tryReadFrame treats as "nothing available yet, try again next pass" —
// the portable stand-in for WouldBlock on a raw non-blocking socket.
const nonBlockingReadBudget = 1 * time.Millisecond

// Connection is everything the Network Worker owns about one accepted
// socket: its framing state, its lifecycle state, and a staging queue of
// already-encoded application packets waiting to go out on the wire.
// Nothing here is touched by the Simulation Worker or by any goroutine
// but the Network Worker's.
type Connection struct {
	ID   simmsg.ConnID
	Conn net.Conn
	R    *bufio.Reader

	State ConnState

	failedAuthAttempts    int
	maxFailedAuthAttempts int

	outbox *queue.Queue
}

func newConnection(id simmsg.ConnID, conn net.Conn, maxFailedAuthAttempts int) *Connection {
	return &Connection{
		ID:                    id,
		Conn:                  conn,
		R:                     bufio.NewReaderSize(conn, readBufferSize),
		State:                 ConnState{Kind: NoAuth},
		maxFailedAuthAttempts: maxFailedAuthAttempts,
		outbox:                queue.New(),
	}
}

// tryReadFrame attempts to assemble exactly one client→server WebSocket
// frame without blocking the Network Worker's pass. It peeks (never
// discards) bytes until a full header, and then a full payload, is
// available; a short deadline turns "not enough bytes yet" into a
// timeout so partial frames simply wait, buffered, for the next call.
// Returns (frame, true, nil) once assembled, (_, false, nil) if nothing
// is ready yet, and (_, false, err) on a genuine framing or I/O failure
// — the latter is the caller's cue to tear the connection down.
func (c *Connection) tryReadFrame() (wsproto.Frame, bool, error) {
	_ = c.Conn.SetReadDeadline(time.Now().Add(nonBlockingReadBudget))
	defer c.Conn.SetReadDeadline(time.Time{})

	head, err := c.R.Peek(2)
	if err != nil {
		if isTimeout(err) {
			return wsproto.Frame{}, false, nil
		}
		return wsproto.Frame{}, false, err
	}

	headerLen := 2
	length := int(head[1] & 0x7F)
	masked := head[1]&0x80 != 0
	switch length {
	case 126:
		headerLen += 2
	case 127:
		return wsproto.Frame{}, false, wsproto.ErrUnsupportedLength
	}
	if masked {
		headerLen += 4
	}

	header, err := c.R.Peek(headerLen)
	if err != nil {
		if isTimeout(err) {
			return wsproto.Frame{}, false, nil
		}
		return wsproto.Frame{}, false, err
	}
	if length == 126 {
		length = int(binary.BigEndian.Uint16(header[2:4]))
	}

	total := headerLen + length
	raw, err := c.R.Peek(total)
	if err != nil {
		if isTimeout(err) {
			return wsproto.Frame{}, false, nil
		}
		return wsproto.Frame{}, false, err
	}

	frame, err := wsproto.DecodeFrame(raw)
	if err != nil {
		return wsproto.Frame{}, false, err
	}
	if _, err := c.R.Discard(total); err != nil {
		return wsproto.Frame{}, false, err
	}
	return frame, true, nil
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// Enqueue stages an already wire-encoded packet for the next Flush.
func (c *Connection) Enqueue(payload []byte) {
	c.outbox.Add(payload)
}

// Pending reports how many packets are staged for the next Flush.
func (c *Connection) Pending() int { return c.outbox.Length() }

// PopPending removes and returns the oldest staged packet, if any.
func (c *Connection) PopPending() ([]byte, bool) {
	if c.outbox.Length() == 0 {
		return nil, false
	}
	item := c.outbox.Peek()
	c.outbox.Remove()
	return item.([]byte), true
}

// recordViolation increments the connection's protocol-violation count
// and reports whether it has now crossed its configured
// maxFailedAuthAttempts.
func (c *Connection) recordViolation() (overLimit bool) {
	c.failedAuthAttempts++
	return c.failedAuthAttempts > c.maxFailedAuthAttempts
}
