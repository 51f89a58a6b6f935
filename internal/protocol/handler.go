package protocol

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/farmpulse/farmpulse/internal/metrics"
	"github.com/farmpulse/farmpulse/internal/registry"
)

// State is the per-connection protocol state.
type State int

const (
	// StateConnected: transport open, no user id bound yet.
	StateConnected State = iota
	// StateSubscribed: user id bound and the connection is registered.
	StateSubscribed
	// StateClosed: terminal. A closed connection is discarded, never reused.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Reader is the inbound half of the transport, satisfied by *websocket.Conn.
type Reader interface {
	ReadMessage() (messageType int, p []byte, err error)
}

// Handler drives the per-connection state machine:
//
//	Connected --subscribe--> Subscribed --unsubscribe--> Connected
//	any state --transport close--> Closed
//
// Malformed messages are answered with an error frame and change nothing.
// All state lives on the read-pump goroutine; registry mutations go through
// the registry's own serialized commands.
type Handler struct {
	registry *registry.Registry
	client   *registry.Client
	clock    clockwork.Clock

	state  State
	userID int64
}

// NewHandler creates a handler for one connection. client must already be
// running its write goroutine.
func NewHandler(reg *registry.Registry, client *registry.Client, clock clockwork.Clock) *Handler {
	return &Handler{
		registry: reg,
		client:   client,
		clock:    clock,
		state:    StateConnected,
	}
}

// Run greets the client and pumps inbound messages until the transport
// closes, then performs close cleanup. Blocks; call from the connection's
// handler goroutine.
func (h *Handler) Run(r Reader) {
	h.reply(TypeConnected, nil, nil)

	for {
		_, data, err := r.ReadMessage()
		if err != nil {
			break
		}
		h.client.MarkActivity()
		h.HandleMessage(data)
		if h.state == StateClosed {
			return
		}
	}

	h.OnTransportClose()
}

// HandleMessage processes one inbound frame.
func (h *Handler) HandleMessage(data []byte) {
	if h.state == StateClosed {
		return
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		h.protocolError("invalid JSON")
		return
	}

	metrics.ProtocolMessagesTotal.WithLabelValues(string(env.Type)).Inc()

	switch env.Type {
	case TypeSubscribe:
		h.handleSubscribe(env)
	case TypeUnsubscribe:
		h.handleUnsubscribe()
	case TypePing:
		h.reply(TypePong, nil, nil)
	default:
		h.protocolError(fmt.Sprintf("unknown message type %q", env.Type))
	}
}

// OnTransportClose handles a close or error reported by the transport layer.
// Unlike a protocol message, this is terminal.
func (h *Handler) OnTransportClose() {
	if h.state == StateClosed {
		return
	}
	if h.state == StateSubscribed {
		h.registry.Unregister(h.userID, h.client)
	} else {
		h.client.Stop()
	}
	h.state = StateClosed
}

// State returns the current protocol state.
func (h *Handler) State() State { return h.state }

// BoundUser returns the bound user id, or 0 when none is bound.
func (h *Handler) BoundUser() int64 {
	if h.state != StateSubscribed {
		return 0
	}
	return h.userID
}

func (h *Handler) handleSubscribe(env Envelope) {
	if env.UserID == nil || *env.UserID <= 0 {
		h.protocolError("subscribe requires a positive userId")
		return
	}
	userID := *env.UserID

	// Re-subscribing under the same id is idempotent; under a new id the
	// registry moves the connection out of the old set first.
	if err := h.registry.Register(userID, h.client); err != nil {
		slog.Warn("Subscribe rejected", "user_id", userID, "error", err)
		// The cap path stops the client inside the registry; Stop is
		// idempotent, so calling it here also covers failures where the
		// registry never took ownership (stopped, command timeout).
		h.client.Stop()
		h.state = StateClosed
		return
	}

	h.userID = userID
	h.state = StateSubscribed
	h.reply(TypeSubscribed, &userID, nil)
}

func (h *Handler) handleUnsubscribe() {
	if h.state != StateSubscribed {
		h.protocolError("not subscribed")
		return
	}

	h.registry.Detach(h.userID, h.client)
	userID := h.userID
	h.userID = 0
	h.state = StateConnected
	h.reply(TypeUnsubscribed, &userID, nil)
}

func (h *Handler) protocolError(message string) {
	metrics.ProtocolErrorsTotal.Inc()
	h.reply(TypeError, nil, ErrorData{Message: message})
}

func (h *Handler) reply(msgType MessageType, userID *int64, data any) {
	frame, err := Marshal(msgType, userID, data, h.clock.Now())
	if err != nil {
		slog.Error("Failed to marshal reply frame", "type", string(msgType), "error", err)
		return
	}
	h.client.TrySend(frame)
}
