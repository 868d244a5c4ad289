package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"beltworks.ai/internal/protocol"
)

func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name   = flag.String("name", "bot", "client name")
		x      = flag.Int("x", 0, "line origin x")
		z      = flag.Int("z", 0, "line origin z")
		length = flag.Int("len", 6, "conveyor tiles between source and sink")
		every  = flag.Uint64("emit_every", 10, "source emit period in ticks")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		Stream:          true,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME session=%s world=%s tick=%d tick_rate=%d", w.SessionID, w.WorldID, w.Tick, w.WorldParams.TickRateHz)
			cmd := protocol.CmdMsg{Type: protocol.TypeCmd, ProtocolVersion: protocol.Version, Commands: lineCommands([3]int{*x, 0, *z}, *length, *every)}
			if err := conn.WriteJSON(cmd); err != nil {
				logger.Fatalf("send CMD: %v", err)
			}

		case protocol.TypeAck:
			var ack protocol.AckMsg
			if err := json.Unmarshal(msg, &ack); err != nil {
				continue
			}
			for _, r := range ack.Results {
				if !r.OK {
					logger.Printf("ACK %s failed: %s %s", r.ID, r.Code, r.Message)
				}
			}

		case protocol.TypeTick:
			var tm protocol.TickMsg
			if err := json.Unmarshal(msg, &tm); err != nil {
				continue
			}
			if tm.Tick%100 == 0 {
				s := tm.Stats
				logger.Printf("tick=%d live=%d placed=%d consumed=%d evicted=%d transfers=%d", tm.Tick, s.Live, s.Placed, s.Consumed, s.Evicted, s.Transfers)
			}

		case protocol.TypeError:
			logger.Printf("ERROR %s", msg)
		}
	}
}

// lineCommands builds SOURCE -> n conveyors -> SINK running east from origin.
func lineCommands(origin [3]int, n int, emitEvery uint64) []protocol.Command {
	if n < 1 {
		n = 1
	}
	at := func(dx int) [3]int { return [3]int{origin[0] + dx, origin[1], origin[2]} }
	cmds := []protocol.Command{
		{ID: "src", Op: protocol.OpPlaceMachine, Kind: "SOURCE", Pos: at(0), Size: [2]int{1, 1}, Ports: [][3]int{at(0)}, Item: "ore", EmitEvery: emitEvery},
		{ID: "sink", Op: protocol.OpPlaceMachine, Kind: "SINK", Pos: at(n + 1), Size: [2]int{1, 1}, Ports: [][3]int{at(n + 1)}},
	}
	for i := 1; i <= n; i++ {
		cmds = append(cmds, protocol.Command{ID: fmt.Sprintf("c%d", i), Op: protocol.OpPlaceConveyor, Pos: at(i)})
	}
	for i := 0; i <= n; i++ {
		cmds = append(cmds, protocol.Command{ID: fmt.Sprintf("l%d", i), Op: protocol.OpLink, Pos: at(i), To: at(i + 1)})
	}
	return cmds
}
