package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"beltworks.ai/internal/protocol"
	"beltworks.ai/internal/sim/factory"
	"beltworks.ai/schemas"
)

func startServer(t *testing.T) (*factory.World, string) {
	t.Helper()
	w := factory.New(factory.Config{ID: "ws_test", TickRateHz: 50, ItemSpeed: 2}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()
	t.Cleanup(cancel)

	set, err := schemas.Load()
	if err != nil {
		t.Fatalf("schemas: %v", err)
	}
	srv := httptest.NewServer(NewServer(w, set, nil).Handler())
	t.Cleanup(srv.Close)
	return w, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readType reads frames until one of type typ arrives.
func readType(t *testing.T, conn *websocket.Conn, typ string) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read %s: %v", typ, err)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if base.Type == typ {
			return msg
		}
	}
}

func hello(t *testing.T, conn *websocket.Conn, stream bool) protocol.WelcomeMsg {
	t.Helper()
	if err := conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: "test", Stream: stream}); err != nil {
		t.Fatalf("hello: %v", err)
	}
	var wel protocol.WelcomeMsg
	if err := json.Unmarshal(readType(t, conn, protocol.TypeWelcome), &wel); err != nil {
		t.Fatalf("welcome: %v", err)
	}
	return wel
}

func TestHandshakeAndCommandAck(t *testing.T) {
	_, url := startServer(t)
	conn := dial(t, url)

	wel := hello(t, conn, false)
	if !strings.HasPrefix(wel.SessionID, "S") || wel.WorldID != "ws_test" || wel.WorldParams.MinItemDistance != 0.51 {
		t.Fatalf("welcome=%+v", wel)
	}

	err := conn.WriteJSON(protocol.CmdMsg{Type: protocol.TypeCmd, ProtocolVersion: protocol.Version, Commands: []protocol.Command{
		{ID: "a", Op: protocol.OpPlaceConveyor, Pos: [3]int{0, 0, 0}},
		{ID: "b", Op: protocol.OpPlaceConveyor, Pos: [3]int{0, 0, 0}},
	}})
	if err != nil {
		t.Fatalf("cmd: %v", err)
	}

	var results []protocol.CommandResult
	for len(results) < 2 {
		var ack protocol.AckMsg
		if err := json.Unmarshal(readType(t, conn, protocol.TypeAck), &ack); err != nil {
			t.Fatalf("ack: %v", err)
		}
		results = append(results, ack.Results...)
	}
	if !results[0].OK || results[0].Ref != "CONVEYOR@0,0,0" {
		t.Fatalf("first=%+v", results[0])
	}
	if results[1].OK || results[1].Code != protocol.ErrConflict {
		t.Fatalf("second=%+v", results[1])
	}
}

func TestInvalidCommandGetsError(t *testing.T) {
	_, url := startServer(t)
	conn := dial(t, url)
	hello(t, conn, false)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CMD","protocol_version":"1.0","commands":[{"id":"x","op":"TELEPORT"}]}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var em protocol.ErrorMsg
	if err := json.Unmarshal(readType(t, conn, protocol.TypeError), &em); err != nil {
		t.Fatalf("error msg: %v", err)
	}
	if em.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("code=%q", em.Code)
	}
}

func TestStreamingClientGetsTicks(t *testing.T) {
	_, url := startServer(t)
	conn := dial(t, url)
	hello(t, conn, true)

	var tm protocol.TickMsg
	if err := json.Unmarshal(readType(t, conn, protocol.TypeTick), &tm); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(tm.Digest) != 64 {
		t.Fatalf("digest=%q", tm.Digest)
	}
}

func TestHandshakeRequiresHello(t *testing.T) {
	_, url := startServer(t)
	conn := dial(t, url)
	if err := conn.WriteJSON(protocol.CmdMsg{Type: protocol.TypeCmd, ProtocolVersion: protocol.Version}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy close, got %v", err)
	}
}
