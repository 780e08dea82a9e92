package node

import "github.com/rudransh-shrivastava/peer-drop/internal/transfer"

type EventType int

const (
	EventConnected EventType = iota
	EventDisconnected
	EventIncoming
	EventWarning
)

func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventIncoming:
		return "incoming"
	case EventWarning:
		return "warning"
	default:
		return "unknown"
	}
}

// Event is something the user should hear about. Peer is the remote device
// name when known; Pending is set for EventIncoming; Err is set for
// EventDisconnected and EventWarning.
type Event struct {
	Type    EventType
	Peer    string
	Pending *transfer.Pending
	Err     error
}

func (n *Node) emit(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.eventsClosed {
		return
	}
	select {
	case n.events <- ev:
	default:
		n.logger.Warnf("Event queue full, dropping %s event", ev.Type)
	}
}
