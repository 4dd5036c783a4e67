package ws

import (
	"errors"
	"log/slog"

	"depesha/internal/content"
	"depesha/internal/ledger"
	"depesha/internal/models"
	"depesha/internal/presence"
)

// Outbound channel depth per connection. A slow reader drops events rather
// than blocking delivery to everyone else.
const sendBuffer = 100

// Hub wires the connection protocol to the ledger and the presence registry
// and routes resulting events to the live connections that should see them.
type Hub struct {
	ledger   *ledger.Ledger
	registry *presence.Registry
}

func NewHub(ledger *ledger.Ledger, registry *presence.Registry) *Hub {
	return &Hub{
		ledger:   ledger,
		registry: registry,
	}
}

// Join registers identity with a fresh outbound channel, announces the
// presence change to everyone connected and pushes the initial unread counts
// to the new connection. Any prior connection for the same identity is
// silently superseded; it is not notified and its channel is simply
// abandoned.
func (h *Hub) Join(identity string) chan models.ServerMessage {
	ch := make(chan models.ServerMessage, sendBuffer)
	h.registry.Register(identity, ch)

	h.broadcast(models.ServerMessage{
		Type:     models.ServerMessageTypePresence,
		Identity: identity,
		Online:   true,
	})
	h.pushUnread(identity)

	return ch
}

// Leave unregisters the connection and broadcasts the offline transition.
// A superseded connection tearing down is a no-op here: its channel is no
// longer the registered one.
func (h *Hub) Leave(identity string, ch chan models.ServerMessage) {
	if !h.registry.Unregister(identity, ch) {
		return
	}
	h.broadcast(models.ServerMessage{
		Type:     models.ServerMessageTypePresence,
		Identity: identity,
	})
}

// Dispatch processes a single command from an authenticated connection.
// Malformed commands are logged and dropped; nothing here closes the
// connection.
func (h *Hub) Dispatch(identity string, msg models.ClientMessage) {
	switch msg.Type {
	case models.ClientMessageTypeSend:
		h.handleSend(identity, msg)
	case models.ClientMessageTypeFetchHistory:
		h.handleFetchHistory(identity, msg)
	case models.ClientMessageTypeMarkRead:
		h.handleMarkRead(identity, msg)
	case models.ClientMessageTypeQueryUnread:
		h.pushUnread(identity)
	case models.ClientMessageTypeUnsend:
		h.handleUnsend(identity, msg)
	default:
		slog.Debug("unknown command", "identity", identity, "type", msg.Type)
	}
}

func (h *Hub) handleSend(identity string, msg models.ClientMessage) {
	if msg.ReceiverID == "" {
		slog.Warn("send without receiver", "identity", identity)
		return
	}

	var attachment *models.Attachment
	if msg.AttachmentURL != "" {
		attachment = &models.Attachment{
			URL:       msg.AttachmentURL,
			Name:      msg.AttachmentName,
			MimeType:  msg.AttachmentMimeType,
			SizeBytes: msg.AttachmentSizeBytes,
		}
	}

	stored, err := h.ledger.Append(identity, msg.ReceiverID, content.Sanitize(msg.Content), attachment)
	if err != nil {
		if errors.Is(err, models.ErrInvalidMessage) {
			slog.Warn("rejected empty message", "identity", identity, "receiver", msg.ReceiverID)
		} else {
			slog.Error("failed to append message", "identity", identity, "error", err)
		}
		return
	}

	created := models.ServerMessage{
		Type:    models.ServerMessageTypeMessageCreated,
		Message: &stored,
	}
	h.deliver(created, identity, stored.ReceiverID)
	h.pushUnread(stored.ReceiverID)
	h.pushUnread(identity)
}

func (h *Hub) handleFetchHistory(identity string, msg models.ClientMessage) {
	if msg.OtherID == "" {
		slog.Warn("fetchHistory without other party", "identity", identity)
		return
	}

	messages := h.ledger.ConversationBetween(identity, msg.OtherID)
	h.deliver(models.ServerMessage{
		Type:     models.ServerMessageTypeHistorySnapshot,
		Messages: messages,
	}, identity)
}

func (h *Hub) handleMarkRead(identity string, msg models.ClientMessage) {
	if msg.SenderID == "" {
		slog.Warn("markRead without sender", "identity", identity)
		return
	}

	if err := h.ledger.MarkRead(msg.SenderID, identity); err != nil {
		slog.Error("failed to mark read", "identity", identity, "sender", msg.SenderID, "error", err)
		return
	}

	h.deliver(models.ServerMessage{
		Type:   models.ServerMessageTypeReadReceipt,
		Reader: identity,
	}, msg.SenderID)
	h.pushUnread(identity)
	h.pushUnread(msg.SenderID)
}

func (h *Hub) handleUnsend(identity string, msg models.ClientMessage) {
	// Failure (unknown id or not the sender) is a silent no-op: the two
	// causes are indistinguishable to the caller.
	retracted, ok := h.ledger.Unsend(msg.MessageID, identity)
	if !ok {
		return
	}

	h.deliver(models.ServerMessage{
		Type:       models.ServerMessageTypeMessageRetracted,
		MessageID:  retracted.ID,
		SenderID:   retracted.SenderID,
		ReceiverID: retracted.ReceiverID,
	}, identity, retracted.ReceiverID)
}

// pushUnread recomputes identity's unread counts from the ledger and pushes
// them if the identity is online.
func (h *Hub) pushUnread(identity string) {
	counts := h.ledger.UnreadCountsFor(identity)
	h.deliver(models.ServerMessage{
		Type:   models.ServerMessageTypeUnreadCounts,
		Counts: counts,
		Total:  ledger.TotalUnread(counts),
	}, identity)
}

// deliver pushes an event to each target that is currently online. Offline
// targets simply miss the push. A full channel drops the event for that
// target only.
func (h *Hub) deliver(event models.ServerMessage, targets ...string) {
	seen := make(map[string]bool, len(targets))
	for _, target := range targets {
		if seen[target] {
			continue
		}
		seen[target] = true

		ch, ok := h.registry.ConnectionFor(target)
		if !ok {
			continue
		}
		push(ch, event, target)
	}
}

// broadcast pushes an event to every connected identity, so directory views
// update live.
func (h *Hub) broadcast(event models.ServerMessage) {
	for identity, ch := range h.registry.Connections() {
		push(ch, event, identity)
	}
}

func push(ch chan models.ServerMessage, event models.ServerMessage, target string) {
	select {
	case ch <- event:
	default:
		slog.Warn("dropping event for slow connection", "identity", target, "type", event.Type)
	}
}
