package domain

import "time"

// ConnectionStatus is the lifecycle state of a feed session.
type ConnectionStatus int

const (
	Disconnected ConnectionStatus = iota
	Connecting
	Connected
	Errored
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Errored:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ConnectionState pairs a status with the human readable reason of an Errored state.
type ConnectionState struct {
	Status ConnectionStatus `json:"status"`
	Reason string           `json:"reason,omitempty"`
}

// ErrorState builds an Errored state.
func ErrorState(reason string) ConnectionState {
	return ConnectionState{Status: Errored, Reason: reason}
}

func (s ConnectionState) String() string {
	if s.Status == Errored && s.Reason != "" {
		return s.Status.String() + "(" + s.Reason + ")"
	}
	return s.Status.String()
}

// MetricsSnapshot is a consolidated, read-only view of pipeline health.
type MetricsSnapshot struct {
	InternalLatencyMs float64         `json:"internal_latency_ms"`
	UpdatesPerSecond  float64         `json:"updates_per_second"`
	ConnectionState   ConnectionState `json:"connection_state"`
	LastError         string          `json:"last_error,omitempty"`

	UpdatesTotal uint64    `json:"updates_total"`
	Resyncs      uint64    `json:"resyncs"`
	Drops        uint64    `json:"drops"`
	Reconnects   uint64    `json:"reconnects"`
	ErrorsTotal  uint64    `json:"errors_total"`
	LastCycleAt  time.Time `json:"last_cycle_at"`
	Timestamp    time.Time `json:"timestamp"`
}
