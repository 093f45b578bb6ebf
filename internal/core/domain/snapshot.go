package domain

import "time"

// Connectivity is the transport reachability a session was told about.
// It is passed in explicitly; nothing reads a global online flag.
type Connectivity string

const (
	ConnectivityOnline  Connectivity = "online"
	ConnectivityOffline Connectivity = "offline"
)

// Online reports whether sends may be attempted
func (c Connectivity) Online() bool {
	return c != ConnectivityOffline
}

// Snapshot is an immutable view of one session's transcript.
// Consumers replace their copy wholesale on every update.
type Snapshot struct {
	SessionID    string           `json:"sessionId"`
	Items        []NormalizedItem `json:"items"`
	Display      []DisplayMessage `json:"display"`
	NextToken    string           `json:"nextToken,omitempty"`
	Version      int              `json:"version"`
	Connectivity Connectivity     `json:"connectivity"`
	Ended        bool             `json:"ended,omitempty"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}
