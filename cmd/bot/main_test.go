package main

import (
	"testing"

	"beltworks.ai/internal/protocol"
	"beltworks.ai/internal/sim/factory"
)

func TestLineCommandsDeliver(t *testing.T) {
	cmds := lineCommands([3]int{5, 0, -3}, 3, 4)
	if len(cmds) != 2+3+4 {
		t.Fatalf("commands=%d", len(cmds))
	}

	w := factory.New(factory.Config{TickRateHz: 20, ItemSpeed: 2}, nil)
	envs := make([]factory.CommandEnvelope, 0, len(cmds))
	for _, c := range cmds {
		envs = append(envs, factory.CommandEnvelope{SessionID: "bot", Cmd: c})
	}
	_, res, _ := w.StepOnce(envs)
	for _, r := range res {
		if !r.OK {
			t.Fatalf("%s: %s %s", r.ID, r.Code, r.Message)
		}
	}
	for i := 0; i < 200; i++ {
		w.StepOnce(nil)
	}
	sink, ok := w.Machine("SINK@9,0,-3")
	if !ok || sink.Received == 0 {
		t.Fatalf("sink received nothing")
	}
	if res[0].Ref != "SOURCE@5,0,-3" || cmds[len(cmds)-1].Op != protocol.OpLink {
		t.Fatalf("unexpected layout")
	}
}
