// Package bus is the in-process message boundary between the core and its
// host UI. The core emits opaque events on state transitions and accepts a
// small set of control commands; it knows nothing about how the host routes
// them further.
package bus

// Event names emitted by the sync engine.
const (
	EventConnected       = "sync:connected"
	EventDisconnected    = "sync:disconnected"
	EventFrozenItem      = "sync:frozen-item"
	EventIncomingApplied = "sync:incoming-applied"
	// EventIncomingBlocked carries the id of an incoming record that cannot
	// be decrypted (missing key or failed authentication). The record blocks
	// the poll cursor until the host resolves it; retrying cannot help, so
	// the condition is surfaced every time it is hit.
	EventIncomingBlocked = "sync:incoming-blocked"
)

// Control command names accepted by the sync engine.
const (
	CmdPause        = "pause"
	CmdResume       = "resume"
	CmdGetPending   = "get-pending"
	CmdUnfreezeItem = "unfreeze-item"
	CmdDeleteItem   = "delete-item"
)

// Event is an opaque message to the host. Payload is whatever the emitting
// component attaches; hosts treat it as data to serialize, never to mutate.
type Event struct {
	Name    string
	Payload any
}

// Command is a control message from the host. ItemID is set for the
// item-addressed commands.
type Command struct {
	Name   string
	ItemID string
}

// Bus carries events from the core to the host over a buffered channel.
// Emits block the emitting goroutine when the host falls behind; state
// events must not be dropped, so the buffer is sized generously instead.
type Bus struct {
	events chan Event
}

func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{events: make(chan Event, buffer)}
}

// Emit publishes an event to the host.
func (b *Bus) Emit(name string, payload any) {
	b.events <- Event{Name: name, Payload: payload}
}

// Events is the host-facing receive side.
func (b *Bus) Events() <-chan Event {
	return b.events
}
