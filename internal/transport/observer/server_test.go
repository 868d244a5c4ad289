package observer

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"beltworks.ai/internal/protocol"
	"beltworks.ai/internal/sim/factory"
)

func testWorld(t *testing.T) *factory.World {
	t.Helper()
	w := factory.New(factory.Config{ID: "obs", TickRateHz: 50, ItemSpeed: 2}, nil)
	_, res, _ := w.StepOnce([]factory.CommandEnvelope{
		{SessionID: "s", Cmd: protocol.Command{ID: "a", Op: protocol.OpPlaceConveyor}},
	})
	if !res[0].OK {
		t.Fatalf("place: %+v", res[0])
	}
	return w
}

func TestBootstrap(t *testing.T) {
	s := NewServer(testWorld(t), nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/observer/bootstrap", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	s.BootstrapHandler()(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var resp BootstrapResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.WorldID != "obs" || resp.Tick != 1 || resp.Metrics.Nodes != 1 {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestRemoteForbidden(t *testing.T) {
	s := NewServer(testWorld(t), nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	s.MetricsHandler()(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status=%d", rec.Code)
	}

	s.AllowRemote = true
	rec = httptest.NewRecorder()
	s.MetricsHandler()(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status with AllowRemote=%d", rec.Code)
	}
}

func TestWriteMetrics(t *testing.T) {
	var buf bytes.Buffer
	m := factory.Metrics{Tick: 9, Nodes: 3, Live: 2, Blocked: 1}
	m.Stats.Placed = 4
	writeMetrics(&buf, "w1", m, map[string]float64{"index_queue_depth": 7})
	out := buf.String()
	for _, want := range []string{
		`beltworks_tick{world="w1"} 9`,
		`beltworks_nodes{world="w1"} 3`,
		`beltworks_blocked_transfers{world="w1"} 1`,
		`beltworks_items_placed_total{world="w1"} 4`,
		`beltworks_index_queue_depth{world="w1"} 7`,
	} {
		if !strings.Contains(out, want+"\n") {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestWSStreamsMetrics(t *testing.T) {
	s := NewServer(testWorld(t), nil)
	s.AllowRemote = true
	srv := httptest.NewServer(s.WSHandler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var m factory.Metrics
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	if m.Nodes != 1 {
		t.Fatalf("metrics=%+v", m)
	}
}
