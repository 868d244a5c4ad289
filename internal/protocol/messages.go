package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	// Stream asks for a TICK frame every tick; otherwise only ACKs are sent.
	Stream bool `json:"stream,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	WorldID         string      `json:"world_id"`
	Tick            uint64      `json:"tick"`
	WorldParams     WorldParams `json:"world_params"`
}

type WorldParams struct {
	TickRateHz      int     `json:"tick_rate_hz"`
	ItemSpeed       float64 `json:"item_speed"`
	QueueDistance   float64 `json:"queue_distance"`
	MinItemDistance float64 `json:"min_item_distance"`
}

// CMD (client -> server)
type CmdMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	Commands        []Command `json:"commands"`
}

// Command is one world mutation. Which fields matter depends on Op:
//
//	PLACE_CONVEYOR  pos
//	LINK, UNLINK    pos -> to
//	DEMOLISH        pos
//	PLACE_MACHINE   pos (footprint origin), size, kind, ports, item, emit_every, capacity, accepts
//	REMOVE_MACHINE  machine_id
//	PLACE_ITEM      pos, dir, item
//	ADD_PARCEL      pos, size, restricted, owner
type Command struct {
	ID         string   `json:"id"`
	Op         string   `json:"op"`
	Pos        [3]int   `json:"pos"`
	To         [3]int   `json:"to"`
	Dir        string   `json:"dir,omitempty"`
	Item       string   `json:"item,omitempty"`
	MachineID  string   `json:"machine_id,omitempty"`
	Kind       string   `json:"kind,omitempty"`
	Size       [2]int   `json:"size"`
	Ports      [][3]int `json:"ports,omitempty"`
	Accepts    []string `json:"accepts,omitempty"`
	Capacity   int      `json:"capacity,omitempty"`
	EmitEvery  uint64   `json:"emit_every,omitempty"`
	Restricted bool     `json:"restricted,omitempty"`
	Owner      string   `json:"owner,omitempty"`
}

// ACK (server -> client), sent on the tick the commands were applied.
type AckMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Tick            uint64          `json:"tick"`
	Results         []CommandResult `json:"results"`
}

type CommandResult struct {
	ID      string `json:"id"`
	OK      bool   `json:"ok"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	// Ref names what the command created, e.g. a machine or parcel id.
	Ref string `json:"ref,omitempty"`
}

// TICK (server -> client)
type TickMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Tick            uint64       `json:"tick"`
	Digest          string       `json:"digest"`
	Stats           NetworkStats `json:"stats"`
	Events          []Event      `json:"events,omitempty"`
}

type NetworkStats struct {
	Nodes      int    `json:"nodes"`
	Machines   int    `json:"machines"`
	Live       int    `json:"live"`
	Placed     uint64 `json:"placed"`
	Consumed   uint64 `json:"consumed"`
	Evicted    uint64 `json:"evicted"`
	Transfers  uint64 `json:"transfers"`
	Rejections uint64 `json:"rejections"`
}

type Event struct {
	Kind      string  `json:"kind"`
	Pos       [3]int  `json:"pos"`
	To        *[3]int `json:"to,omitempty"`
	Dir       string  `json:"dir,omitempty"`
	Item      string  `json:"item,omitempty"`
	MachineID string  `json:"machine_id,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
