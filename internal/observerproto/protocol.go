package observerproto

// Version is the observer protocol version.
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeNotice    = "NOTICE"
	TypeStations  = "STATIONS"
)

// Client -> Server. First message on the observer WS connection; it can be
// re-sent to move the observer.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// Pos is where the observer stands; notices are delivered when it is
	// within the notice radius of their origin.
	Pos [3]int `json:"pos"`
	// Stations requests periodic STATIONS messages.
	Stations bool `json:"stations,omitempty"`
}

// HTTP response for GET /observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string        `json:"protocol_version"`
	Dimension       string        `json:"dimension"`
	Tick            uint64        `json:"tick"`
	Stations        []StationInfo `json:"stations"`
}

type StationInfo struct {
	Pos       [3]int `json:"pos"`
	Blueprint string `json:"blueprint"`
	AgentID   string `json:"agent_id"`
	Built     bool   `json:"built"`
	Cursor    int    `json:"cursor"`
	Total     int    `json:"total"`
	Active    string `json:"active,omitempty"`
}

// Server -> Client. A builder asking for help.
type NoticeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Origin          [3]int `json:"origin"`
	Text            string `json:"text"`
}

// Server -> Client. Station status, sent after reconciler sweeps.
type StationsMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	Tick            uint64        `json:"tick"`
	Stations        []StationInfo `json:"stations"`
}
