package protocol

import "testing"

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrWorldBusy,
		ErrBadRequest,
		ErrNoPermission,
		ErrInvalidTarget,
		ErrRateLimit,
		ErrConflict,
		ErrBlocked,
		ErrInternal,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestIsKnownOp(t *testing.T) {
	for _, op := range []string{OpPlaceConveyor, OpLink, OpUnlink, OpDemolish, OpPlaceMachine, OpRemoveMachine, OpPlaceItem, OpAddParcel} {
		if !IsKnownOp(op) {
			t.Fatalf("op %s not known", op)
		}
	}
	if IsKnownOp("TELEPORT") {
		t.Fatalf("unknown op accepted")
	}
}

func TestDecodeBase(t *testing.T) {
	m, err := DecodeBase([]byte(`{"type":"CMD","protocol_version":"1.0","commands":[]}`))
	if err != nil || m.Type != TypeCmd || m.ProtocolVersion != Version {
		t.Fatalf("m=%+v err=%v", m, err)
	}
	if _, err := DecodeBase([]byte(`{`)); err == nil {
		t.Fatalf("expected decode error")
	}
}
