package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PlayerName      string `json:"player_name"`
	// PlayerID resumes a known caller id; empty asks the server for one.
	PlayerID string `json:"player_id,omitempty"`
	WorldID  string `json:"world_id,omitempty"`
	MaxQueue int    `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	SessionID       string       `json:"session_id"`
	PlayerID        string       `json:"player_id"`
	WorldID         string       `json:"world_id"`
	Handlers        []HandlerRef `json:"handlers"`
}

type HandlerRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DISPATCH (client -> server): one interaction routed to a handler.
type DispatchMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	ReqID           string       `json:"req_id"`
	HandlerID       string       `json:"handler_id"`
	Target          *[3]int      `json:"target,omitempty"`
	Pos             *[3]int      `json:"pos,omitempty"`
	Repeat          bool         `json:"repeat,omitempty"`
	Hand            *HandRef     `json:"hand,omitempty"`
	Args            DispatchArgs `json:"args,omitempty"`
}

// HandRef puts an item in the session inventory's hand before dispatch.
type HandRef struct {
	ItemID string            `json:"item_id"`
	Tags   map[string]string `json:"tags,omitempty"`
}

type DispatchArgs struct {
	ItemID   string `json:"item_id,omitempty"`
	Quantity int64  `json:"quantity,omitempty"`
	Query    string `json:"query,omitempty"`
	Action   string `json:"action,omitempty"`
}

// RESULT (server -> client)
type ResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Kind            string `json:"kind"` // success | skipped | failed
	Reason          string `json:"reason,omitempty"`
}

// STORAGE (server -> client): a ledger view opened by an access handler.
type StorageMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	StorageID       string        `json:"storage_id"`
	Capacity        int64         `json:"capacity"`
	TotalItems      int64         `json:"total_items"`
	Remaining       int64         `json:"remaining"`
	UniqueItems     int64         `json:"unique_items"`
	Items           []StorageItem `json:"items"`
}

type StorageItem struct {
	ItemID   string `json:"item_id"`
	Quantity int64  `json:"quantity"`
	Display  string `json:"display,omitempty"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewError(reqID, code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, ReqID: reqID, Code: code, Message: message}
}
