package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeCmd     = "CMD"
	TypeAck     = "ACK"
	TypeTick    = "TICK"
	TypeError   = "ERROR"
)

// Command ops.
const (
	OpPlaceConveyor = "PLACE_CONVEYOR"
	OpLink          = "LINK"
	OpUnlink        = "UNLINK"
	OpDemolish      = "DEMOLISH"
	OpPlaceMachine  = "PLACE_MACHINE"
	OpRemoveMachine = "REMOVE_MACHINE"
	OpPlaceItem     = "PLACE_ITEM"
	OpAddParcel     = "ADD_PARCEL"
)

// Event kinds carried in TICK.
const (
	EventEvict       = "EVICT"
	EventConsume     = "CONSUME"
	EventEmit        = "EMIT"
	EventIllegalLink = "ILLEGAL_LINK"
	EventNodeRemoved = "NODE_REMOVED"
	EventMachineLink = "MACHINE_LINK"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

func IsKnownOp(op string) bool {
	switch op {
	case OpPlaceConveyor, OpLink, OpUnlink, OpDemolish, OpPlaceMachine, OpRemoveMachine, OpPlaceItem, OpAddParcel:
		return true
	}
	return false
}
