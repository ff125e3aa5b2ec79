// Package realtime implements the Realtime Server and Realtime Client
// (§4.F/§4.G): a long-lived server-push event stream fanning out sync
// operations to connected replicas, with table-filtered subscription,
// per-user connection limits, heartbeats, and client-side reconnect.
//
// The teacher repo carries no fan-out transport of its own; the wire
// mechanics here are grounded on bringyour-connect's
// connect/transport.go websocket dial/reconnect loop, generalized from
// that package's binary protobuf framing to a JSON Event envelope.
package realtime

import (
	"encoding/json"
	"time"

	"github.com/driftsync/driftsync/syncmodel"
)

// EventType enumerates the wire event kinds of §4.F's "Event wire form".
type EventType string

const (
	EventConnected  EventType = "connected"
	EventOperations EventType = "operations"
	EventHeartbeat  EventType = "heartbeat"
	EventReconnect  EventType = "reconnect"
	EventError      EventType = "error"
)

// Event is one record on the stream, per §4.F: {id, type, data, timestamp}.
type Event struct {
	ID        int64           `json:"id"`
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// ConnectedPayload is the payload of an EventConnected event.
type ConnectedPayload struct {
	ConnectionID string   `json:"connection_id"`
	Tables       []string `json:"tables"`
}

// OperationsPayload is the payload of an EventOperations event.
type OperationsPayload struct {
	Operations []syncmodel.Operation `json:"operations"`
	Tables     []string              `json:"tables"`
}

// HeartbeatPayload is the payload of an EventHeartbeat event.
type HeartbeatPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

func encodePayload(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`null`)
	}
	return raw
}
