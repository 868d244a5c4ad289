package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"beltworks.ai/internal/protocol"
	"beltworks.ai/internal/sim/factory"
	"beltworks.ai/schemas"
)

const outQueue = 16

type Server struct {
	world   *factory.World
	log     *log.Logger
	schemas *schemas.Set

	upgrader websocket.Upgrader
}

// NewServer wires a websocket front door onto w. A nil schema set skips validation.
func NewServer(w *factory.World, set *schemas.Set, logger *log.Logger) *Server {
	return &Server{
		world:   w,
		log:     logger,
		schemas: set,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID, out := s.handshake(conn)
		if sessionID == "" {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			s.handleMessage(sessionID, msg, out)
		}

		s.world.Leave() <- sessionID
	}
}

func (s *Server) handleMessage(sessionID string, msg []byte, out chan []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		s.reply(out, protocol.ErrProtoBadRequest, "malformed message")
		return
	}
	if base.Type != protocol.TypeCmd {
		s.reply(out, protocol.ErrProtoBadRequest, "unexpected message type "+base.Type)
		return
	}
	if base.ProtocolVersion != protocol.Version {
		s.reply(out, protocol.ErrProtoBadRequest, "bad protocol_version")
		return
	}
	if s.schemas != nil {
		if err := s.schemas.Validate(base.Type, msg); err != nil {
			s.reply(out, protocol.ErrProtoBadRequest, err.Error())
			return
		}
	}
	var cmd protocol.CmdMsg
	if err := json.Unmarshal(msg, &cmd); err != nil {
		s.reply(out, protocol.ErrProtoBadRequest, err.Error())
		return
	}
	for _, c := range cmd.Commands {
		select {
		case s.world.Inbox() <- factory.CommandEnvelope{SessionID: sessionID, Cmd: c}:
		default:
			s.reply(out, protocol.ErrWorldBusy, "command queue full; dropped "+c.ID)
		}
	}
}

func (s *Server) reply(out chan []byte, code, message string) {
	b, err := json.Marshal(protocol.ErrorMsg{Type: protocol.TypeError, ProtocolVersion: protocol.Version, Code: code, Message: message})
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
		s.logf("drop error reply %s: %s", code, message)
	}
}

func (s *Server) handshake(conn *websocket.Conn) (sessionID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return "", nil
	}
	if s.schemas != nil {
		if err := s.schemas.Validate(base.Type, msg); err != nil {
			closeWith(conn, "invalid HELLO")
			return "", nil
		}
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return "", nil
	}

	sessionID = "S" + uuid.NewString()
	out = make(chan []byte, outQueue)
	resp := make(chan protocol.WelcomeMsg, 1)
	s.world.Join() <- factory.JoinRequest{
		SessionID: sessionID,
		Name:      hello.ClientName,
		Stream:    hello.Stream,
		Out:       out,
		Resp:      resp,
	}

	var welcome protocol.WelcomeMsg
	select {
	case welcome = <-resp:
	case <-time.After(10 * time.Second):
		closeWith(conn, "world not ticking")
		return "", nil
	}
	if err := writeJSON(conn, welcome); err != nil {
		s.world.Leave() <- sessionID
		return "", nil
	}
	s.logf("session %s joined (%s)", sessionID, hello.ClientName)
	return sessionID, out
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
