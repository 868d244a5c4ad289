// Package observer serves read-only views of a running world: a JSON bootstrap,
// Prometheus-style metrics and a websocket stream of per-tick metrics.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"beltworks.ai/internal/protocol"
	"beltworks.ai/internal/sim/factory"
)

type Server struct {
	world *factory.World
	log   *log.Logger

	// Extra gauges appended to /metrics, e.g. index queue depth. May be nil.
	Gauges func() map[string]float64

	// AllowRemote disables the loopback-only guard.
	AllowRemote bool

	upgrader websocket.Upgrader
}

type BootstrapResponse struct {
	ProtocolVersion string               `json:"protocol_version"`
	WorldID         string               `json:"world_id"`
	Tick            uint64               `json:"tick"`
	WorldParams     protocol.WorldParams `json:"world_params"`
	Metrics         factory.Metrics      `json:"metrics"`
}

func NewServer(w *factory.World, logger *log.Logger) *Server {
	return &Server{
		world: w,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) allowed(rw http.ResponseWriter, r *http.Request) bool {
	if s.AllowRemote || isLoopbackRemote(r.RemoteAddr) {
		return true
	}
	http.Error(rw, "forbidden", http.StatusForbidden)
	return false
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(rw, r) {
			return
		}
		resp := BootstrapResponse{
			ProtocolVersion: protocol.Version,
			WorldID:         s.world.ID(),
			Tick:            s.world.CurrentTick(),
			WorldParams:     s.world.Params(),
			Metrics:         s.world.Metrics(),
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

// MetricsHandler renders the latest tick metrics in the Prometheus text format.
func (s *Server) MetricsHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowed(rw, r) {
			return
		}
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, s.world.ID(), s.world.Metrics(), s.gauges())
	}
}

func (s *Server) gauges() map[string]float64 {
	if s.Gauges == nil {
		return nil
	}
	return s.Gauges()
}

func writeMetrics(w io.Writer, worldID string, m factory.Metrics, extra map[string]float64) {
	label := fmt.Sprintf(`{world=%q}`, worldID)
	gauge := func(name string, v float64) {
		fmt.Fprintf(w, "beltworks_%s%s %v\n", name, label, v)
	}
	gauge("tick", float64(m.Tick))
	gauge("nodes", float64(m.Nodes))
	gauge("machines", float64(m.Machines))
	gauge("parcels", float64(m.Parcels))
	gauge("sessions", float64(m.Sessions))
	gauge("live_items", float64(m.Live))
	gauge("blocked_transfers", float64(m.Blocked))
	gauge("items_placed_total", float64(m.Stats.Placed))
	gauge("items_consumed_total", float64(m.Stats.Consumed))
	gauge("items_evicted_total", float64(m.Stats.Evicted))
	gauge("transfers_total", float64(m.Stats.Transfers))
	gauge("rejections_total", float64(m.Stats.Rejections))

	names := make([]string, 0, len(extra))
	for k := range extra {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		gauge(k, extra[k])
	}
}

// WSHandler pushes the latest metrics once per tick until the client goes away.
func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.allowed(rw, r) {
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Drain control frames so a client close is noticed.
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		hz := s.world.TickRateHz()
		if hz <= 0 {
			hz = 1
		}
		ticker := time.NewTicker(time.Second / time.Duration(hz))
		defer ticker.Stop()

		var last uint64
		sent := false
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			m := s.world.Metrics()
			if sent && m.Tick == last {
				continue
			}
			b, err := json.Marshal(m)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
			last, sent = m.Tick, true
		}
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
