// Package ledger is the durable record of all messages and the only writer
// of their read/unsent flags. Mutations commit to the store before they are
// visible to readers or acknowledged to callers.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"depesha/internal/models"

	"github.com/google/uuid"
)

// MessageStore is the durable backing for the ledger. Every mutating ledger
// call commits through it before returning.
type MessageStore interface {
	PutMessage(message models.Message) error
	PutMessages(messages []models.Message) error
	ListMessages() ([]models.Message, error)
}

type Ledger struct {
	store MessageStore

	mu         sync.RWMutex
	byID       map[string]*models.Message
	byPair     map[string][]*models.Message // insertion order per conversation pair
	byReceiver map[string][]*models.Message
	nextSeq    int64

	now   func() time.Time
	newID func() string
}

// New opens a ledger over the given store and rebuilds the in-memory
// indices from the last committed record set.
func New(store MessageStore) (*Ledger, error) {
	l := &Ledger{
		store:      store,
		byID:       make(map[string]*models.Message),
		byPair:     make(map[string][]*models.Message),
		byReceiver: make(map[string][]*models.Message),
		now:        time.Now,
		newID:      uuid.NewString,
	}

	messages, err := store.ListMessages()
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	for i := range messages {
		l.index(&messages[i])
		if messages[i].Seq >= l.nextSeq {
			l.nextSeq = messages[i].Seq + 1
		}
	}

	return l, nil
}

// index inserts a message into all lookup structures. Caller holds the write
// lock (or is the constructor).
func (l *Ledger) index(m *models.Message) {
	l.byID[m.ID] = m
	key := pairKey(m.SenderID, m.ReceiverID)
	l.byPair[key] = append(l.byPair[key], m)
	l.byReceiver[m.ReceiverID] = append(l.byReceiver[m.ReceiverID], m)
}

// Append validates, persists and indexes a new message. A message with
// neither content nor attachment is rejected with models.ErrInvalidMessage.
func (l *Ledger) Append(senderID, receiverID, content string, attachment *models.Attachment) (models.Message, error) {
	if content == "" && attachment == nil {
		return models.Message{}, models.ErrInvalidMessage
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	msg := models.Message{
		ID:         l.newID(),
		Seq:        l.nextSeq,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Attachment: attachment,
		CreatedAt:  l.now().Unix(),
	}

	if err := l.store.PutMessage(msg); err != nil {
		return models.Message{}, fmt.Errorf("failed to persist message: %w", err)
	}

	l.nextSeq++
	stored := msg
	l.index(&stored)

	return msg, nil
}

// ConversationBetween returns both directions of the pair, ascending
// CreatedAt, ties broken by insertion order. Unsent messages are excluded
// entirely, for the original sender as much as for anyone else.
func (l *Ledger) ConversationBetween(a, b string) []models.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := l.byPair[pairKey(a, b)]
	messages := make([]models.Message, 0, len(entries))
	for _, m := range entries {
		if m.Unsent {
			continue
		}
		messages = append(messages, *m)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt < messages[j].CreatedAt
	})

	return messages
}

// MarkRead flips read=true on every unread, non-unsent message from senderID
// to receiverID. A call matching nothing is a no-op, which also makes the
// operation idempotent.
func (l *Ledger) MarkRead(senderID, receiverID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var pending []*models.Message
	var updated []models.Message
	for _, m := range l.byPair[pairKey(senderID, receiverID)] {
		if m.SenderID != senderID || m.ReceiverID != receiverID {
			continue
		}
		if m.Read || m.Unsent {
			continue
		}
		upd := *m
		upd.Read = true
		pending = append(pending, m)
		updated = append(updated, upd)
	}

	if len(updated) == 0 {
		return nil
	}

	if err := l.store.PutMessages(updated); err != nil {
		return fmt.Errorf("failed to persist read flags: %w", err)
	}

	for _, m := range pending {
		m.Read = true
	}
	return nil
}

// Unsend retracts a message. It succeeds only if the message exists and
// requesterID is its sender; the two failure causes are deliberately not
// distinguished for the caller. On success the updated record is returned so
// both parties can be notified.
func (l *Ledger) Unsend(messageID, requesterID string) (models.Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.byID[messageID]
	if !ok || m.SenderID != requesterID {
		return models.Message{}, false
	}

	if !m.Unsent {
		upd := *m
		upd.Unsent = true
		if err := l.store.PutMessage(upd); err != nil {
			return models.Message{}, false
		}
		m.Unsent = true
	}

	return *m, true
}

// UnreadCountsFor derives per-counterparty unread counts for userID. Always
// recomputed from the index, never cached, so the client badge cannot drift
// from ledger truth.
func (l *Ledger) UnreadCountsFor(userID string) map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	counts := make(map[string]int)
	for _, m := range l.byReceiver[userID] {
		if m.Read || m.Unsent {
			continue
		}
		counts[m.SenderID]++
	}
	return counts
}

// Get returns a copy of the message with the given id, unsent or not.
func (l *Ledger) Get(messageID string) (models.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	m, ok := l.byID[messageID]
	if !ok {
		return models.Message{}, false
	}
	return *m, true
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}

// TotalUnread sums per-counterparty counts.
func TotalUnread(counts map[string]int) int {
	total := 0
	for _, c := range counts {
		total += c
	}
	return total
}
