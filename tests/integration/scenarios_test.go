package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arborwatch/ecosim/internal/packet"
)

var dialer = websocket.Dialer{
	Subprotocols:     []string{"binary"},
	HandshakeTimeout: 2 * time.Second,
}

func dial(t *testing.T, ts *testServer) *websocket.Conn {
	t.Helper()
	conn, resp, err := dialer.Dial(ts.wsURL(), http.Header{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendPacket(t *testing.T, conn *websocket.Conn, p []byte) {
	t.Helper()
	if err := conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readPacket(t *testing.T, conn *websocket.Conn) packet.Packet {
	t.Helper()
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	pkt, err := packet.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return pkt
}

func readPacketTag(t *testing.T, conn *websocket.Conn, want packet.Tag) packet.Packet {
	t.Helper()
	pkt := readPacket(t, conn)
	if pkt.Tag != want {
		t.Fatalf("got tag %#x, want %#x", pkt.Tag, want)
	}
	return pkt
}

// authenticate drives a fresh connection through RequestNewSession ->
// NewSession -> AttemptAuthSession -> AuthSuccessful, returning the
// granted token. AttemptAuthSession always succeeds in this core.
func authenticate(t *testing.T, conn *websocket.Conn) uint32 {
	t.Helper()
	sendPacket(t, conn, []byte{byte(packet.TagRequestNewSession)})
	newSession := readPacketTag(t, conn, packet.TagNewSession)

	attempt, err := packet.Encode(packet.Packet{Tag: packet.TagAttemptAuthSession, Token: newSession.Token})
	if err != nil {
		t.Fatalf("encode attempt auth: %v", err)
	}
	sendPacket(t, conn, attempt)
	success := readPacketTag(t, conn, packet.TagAuthSuccessful)
	if success.Token != newSession.Token {
		t.Fatalf("auth token mismatch: got %d, want %d", success.Token, newSession.Token)
	}
	return success.Token
}

// S1: a freshly connected client can request and receive a new session,
// then spend that token to reach Ready.
func TestNewSessionGrantsAuth(t *testing.T) {
	ts := startTestServer(t)
	conn := dial(t, ts)
	authenticate(t, conn)

	requestWorld, err := packet.Encode(packet.Packet{Tag: packet.TagRequestDownloadWorld})
	if err != nil {
		t.Fatalf("encode request world: %v", err)
	}
	sendPacket(t, conn, requestWorld)
	readPacketTag(t, conn, packet.TagHealthUpdate)
	readPacketTag(t, conn, packet.TagTreeUpdate)
}

// S2: placing a tree broadcasts TreePlaced, and a simulation tick run
// long enough to kill it broadcasts TreeDied.
func TestPlaceAndKillTree(t *testing.T) {
	ts := startTestServer(t)
	conn := dial(t, ts)
	authenticate(t, conn)

	place, err := packet.Encode(packet.Packet{
		Tag: packet.TagRequestPlaceTree, X: 5, Y: 5, Species: packet.SpeciesA,
	})
	if err != nil {
		t.Fatalf("encode place: %v", err)
	}
	sendPacket(t, conn, place)

	placed := readPacketTag(t, conn, packet.TagTreePlaced)
	if placed.X != 5 || placed.Y != 5 {
		t.Fatalf("placed at (%v,%v), want (5,5)", placed.X, placed.Y)
	}

	// Drive the world forward with manual ticks until the seed has aged
	// into death. Every tick broadcasts one HealthUpdate and one
	// TreeUpdate; once the tree has been harvested it is missing from
	// the TreeUpdate, and its TreeDied follows right after. Reads carry
	// no deadline: a gorilla/websocket connection is unusable after a
	// read timeout.
	const maxTicks = 4000
	killed := false
	for i := 0; i < maxTicks && !killed; i++ {
		ts.sim.StepTick()
		readPacketTag(t, conn, packet.TagHealthUpdate)
		update := readPacketTag(t, conn, packet.TagTreeUpdate)
		listed := false
		for _, st := range update.Trees {
			if st.ID == placed.ID {
				listed = true
			}
		}
		if !listed {
			died := readPacketTag(t, conn, packet.TagTreeDied)
			if died.ID != placed.ID {
				t.Fatalf("TreeDied for id %d, want %d", died.ID, placed.ID)
			}
			killed = true
		}
	}
	if !killed {
		t.Fatalf("tree %d never died within %d ticks", placed.ID, maxTicks)
	}
}

func readOneOrTimeout(conn *websocket.Conn) (packet.Packet, error) {
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return packet.Packet{}, err
	}
	return packet.Decode(raw)
}

// S3: a second tree placed inside the first tree's exclusion radius is
// silently rejected — no TreePlaced is ever broadcast for it.
func TestOverlappingPlacementRejected(t *testing.T) {
	ts := startTestServer(t)
	conn := dial(t, ts)
	authenticate(t, conn)

	first, _ := packet.Encode(packet.Packet{Tag: packet.TagRequestPlaceTree, X: 10, Y: 10, Species: packet.SpeciesB})
	sendPacket(t, conn, first)
	readPacketTag(t, conn, packet.TagTreePlaced)

	second, _ := packet.Encode(packet.Packet{Tag: packet.TagRequestPlaceTree, X: 10.1, Y: 10.1, Species: packet.SpeciesB})
	sendPacket(t, conn, second)

	// Confirm no TreePlaced ever arrives for the overlapping request by
	// waiting past a few pass periods and checking nothing shows up.
	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no further packets, got one")
	}
	_ = conn.SetReadDeadline(time.Time{})
}

// S4: a frame carrying an unknown tag byte is a decode error, which the
// Network Worker treats as a protocol violation and closes the socket.
func TestMalformedTagClosesConnection(t *testing.T) {
	ts := startTestServer(t)
	conn := dial(t, ts)

	sendPacket(t, conn, []byte{0xFF})

	_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected connection to be closed after malformed tag")
	}
}

// S5: gorilla/websocket always masks client frames correctly per RFC
// 6455, so this test instead drives the framing layer directly to prove
// an unmasked client frame is rejected, by writing raw bytes after the
// handshake over the underlying TCP socket.
func TestUnmaskedClientFrameRejected(t *testing.T) {
	ts := startTestServer(t)
	conn := dial(t, ts)

	// Hand-assemble an RFC 6455 frame with the mask bit clear, carrying
	// a three-byte Debug packet. Any unmasked client frame must be
	// refused regardless of its tag.
	payload := []byte{byte(0x00), 'h', 'i'}
	frame := make([]byte, 0, 2+len(payload))
	frame = append(frame, 0x82, byte(len(payload))) // FIN=1, binary, mask bit clear
	frame = append(frame, payload...)

	netConn := conn.UnderlyingConn()
	if _, err := netConn.Write(frame); err != nil {
		t.Fatalf("raw write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected connection to be closed after unmasked frame")
	}
}

// S6: a world tick broadcasts WorldTick/TreeTick to every Ready
// connection, not just one of them.
func TestTickBroadcastsToAllReadyConnections(t *testing.T) {
	ts := startTestServer(t)
	a := dial(t, ts)
	authenticate(t, a)
	b := dial(t, ts)
	authenticate(t, b)

	ts.sim.StepTick()

	readPacketTag(t, a, packet.TagHealthUpdate)
	readPacketTag(t, a, packet.TagTreeUpdate)
	readPacketTag(t, b, packet.TagHealthUpdate)
	readPacketTag(t, b, packet.TagTreeUpdate)
}
