package ledger

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"depesha/internal/models"
	"depesha/internal/storage"
)

func newTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := storage.NewBboltStorage(dbPath)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	l, err := New(store)
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	return l, dbPath
}

func TestAppend(t *testing.T) {
	l, _ := newTestLedger(t)

	t.Run("ContentOnly", func(t *testing.T) {
		msg, err := l.Append("a", "b", "hello", nil)
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if msg.ID == "" {
			t.Error("expected assigned message ID")
		}
		if msg.Read || msg.Unsent {
			t.Error("new message must start with read=false, unsent=false")
		}
	})

	t.Run("AttachmentOnly", func(t *testing.T) {
		att := &models.Attachment{URL: "http://x/1", Name: "a.png", MimeType: "image/png", SizeBytes: 42}
		msg, err := l.Append("a", "b", "", att)
		if err != nil {
			t.Fatalf("Append with attachment failed: %v", err)
		}
		if msg.Attachment == nil || msg.Attachment.Name != "a.png" {
			t.Errorf("attachment not stored: %+v", msg.Attachment)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		if _, err := l.Append("a", "b", "", nil); err != models.ErrInvalidMessage {
			t.Errorf("expected ErrInvalidMessage, got %v", err)
		}
	})
}

func TestConversationBetween(t *testing.T) {
	l, _ := newTestLedger(t)

	// Fixed clock so ordering is driven by insertion order on ties.
	now := int64(1000)
	l.now = func() time.Time { return time.Unix(now, 0) }

	m1, _ := l.Append("a", "b", "first", nil)
	m2, _ := l.Append("b", "a", "second", nil)
	now = 2000
	m3, _ := l.Append("a", "b", "third", nil)
	_, _ = l.Append("a", "c", "other pair", nil)

	conv := l.ConversationBetween("b", "a")
	if len(conv) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(conv))
	}
	if conv[0].ID != m1.ID || conv[1].ID != m2.ID || conv[2].ID != m3.ID {
		t.Errorf("wrong order: %s %s %s", conv[0].Content, conv[1].Content, conv[2].Content)
	}

	// Symmetric regardless of argument order.
	conv2 := l.ConversationBetween("a", "b")
	if len(conv2) != 3 {
		t.Errorf("expected 3 messages for reversed pair, got %d", len(conv2))
	}
}

func TestMarkRead(t *testing.T) {
	l, _ := newTestLedger(t)

	m1, _ := l.Append("a", "b", "one", nil)
	m2, _ := l.Append("a", "b", "two", nil)
	_, _ = l.Append("b", "a", "reverse direction", nil)

	if err := l.MarkRead("a", "b"); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}

	for _, id := range []string{m1.ID, m2.ID} {
		m, ok := l.Get(id)
		if !ok {
			t.Fatalf("message %s not found", id)
		}
		if !m.Read {
			t.Errorf("message %s not marked read", id)
		}
	}

	// Reverse direction untouched.
	counts := l.UnreadCountsFor("a")
	if counts["b"] != 1 {
		t.Errorf("expected 1 unread from b for a, got %d", counts["b"])
	}

	t.Run("Idempotent", func(t *testing.T) {
		if err := l.MarkRead("a", "b"); err != nil {
			t.Fatalf("second MarkRead failed: %v", err)
		}
		if got := l.UnreadCountsFor("b"); len(got) != 0 {
			t.Errorf("expected no unread for b, got %v", got)
		}
	})

	t.Run("NoMatchIsNoop", func(t *testing.T) {
		if err := l.MarkRead("nobody", "b"); err != nil {
			t.Errorf("MarkRead with no matches errored: %v", err)
		}
	})
}

func TestUnsend(t *testing.T) {
	l, _ := newTestLedger(t)

	m, _ := l.Append("a", "b", "regret", nil)

	t.Run("NonSenderFails", func(t *testing.T) {
		if _, ok := l.Unsend(m.ID, "b"); ok {
			t.Fatal("unsend by receiver must fail")
		}
		got, _ := l.Get(m.ID)
		if got.Unsent {
			t.Error("failed unsend must not mutate the message")
		}
		if len(l.ConversationBetween("a", "b")) != 1 {
			t.Error("message must remain visible after failed unsend")
		}
	})

	t.Run("UnknownIDFails", func(t *testing.T) {
		if _, ok := l.Unsend("no-such-id", "a"); ok {
			t.Fatal("unsend of unknown id must fail")
		}
	})

	t.Run("SenderSucceeds", func(t *testing.T) {
		retracted, ok := l.Unsend(m.ID, "a")
		if !ok {
			t.Fatal("unsend by sender failed")
		}
		if !retracted.Unsent {
			t.Error("returned record must have unsent=true")
		}
		if retracted.ReceiverID != "b" {
			t.Errorf("expected receiver b, got %s", retracted.ReceiverID)
		}

		// Excluded from the conversation for both parties, sender included.
		if len(l.ConversationBetween("a", "b")) != 0 {
			t.Error("unsent message still visible in conversation")
		}
		if len(l.ConversationBetween("b", "a")) != 0 {
			t.Error("unsent message still visible to the other party")
		}

		// Retained in the ledger for audit.
		if _, ok := l.Get(m.ID); !ok {
			t.Error("unsent message removed from ledger")
		}
	})

	t.Run("RepeatSucceeds", func(t *testing.T) {
		if _, ok := l.Unsend(m.ID, "a"); !ok {
			t.Error("repeated unsend by sender should still succeed")
		}
	})
}

func TestUnreadCounts(t *testing.T) {
	l, _ := newTestLedger(t)

	_, _ = l.Append("a", "u", "1", nil)
	_, _ = l.Append("a", "u", "2", nil)
	m3, _ := l.Append("b", "u", "3", nil)
	_, _ = l.Append("u", "a", "outgoing", nil)

	counts := l.UnreadCountsFor("u")
	if counts["a"] != 2 || counts["b"] != 1 {
		t.Errorf("expected a:2 b:1, got %v", counts)
	}
	if TotalUnread(counts) != 3 {
		t.Errorf("expected total 3, got %d", TotalUnread(counts))
	}

	// Unsent messages stop counting.
	if _, ok := l.Unsend(m3.ID, "b"); !ok {
		t.Fatal("unsend failed")
	}
	counts = l.UnreadCountsFor("u")
	if counts["b"] != 0 {
		t.Errorf("unsent message still counted: %v", counts)
	}

	// Read messages stop counting.
	if err := l.MarkRead("a", "u"); err != nil {
		t.Fatal(err)
	}
	counts = l.UnreadCountsFor("u")
	if TotalUnread(counts) != 0 {
		t.Errorf("expected total 0 after markRead, got %v", counts)
	}
}

// TestUnreadCountsInterleaved drives an arbitrary interleaving of
// send/markRead/unsend and checks the derived counts against a naive
// recomputation over the full record set.
func TestUnreadCountsInterleaved(t *testing.T) {
	l, _ := newTestLedger(t)

	users := []string{"a", "b", "c"}
	var ids []string

	for i := 0; i < 60; i++ {
		from := users[i%3]
		to := users[(i+1+i%2)%3]
		m, err := l.Append(from, to, fmt.Sprintf("msg %d", i), nil)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, m.ID)

		switch i % 7 {
		case 3:
			if err := l.MarkRead(from, to); err != nil {
				t.Fatal(err)
			}
		case 5:
			l.Unsend(ids[i/2], from) // may fail for non-sender, deliberately
		}
	}

	for _, u := range users {
		want := make(map[string]int)
		for _, id := range ids {
			m, ok := l.Get(id)
			if !ok {
				t.Fatalf("message %s missing", id)
			}
			if m.ReceiverID == u && !m.Read && !m.Unsent {
				want[m.SenderID]++
			}
		}
		got := l.UnreadCountsFor(u)
		for k, v := range want {
			if got[k] != v {
				t.Errorf("user %s counterparty %s: want %d got %d", u, k, v, got[k])
			}
		}
		if TotalUnread(got) != TotalUnread(want) {
			t.Errorf("user %s: want total %d got %d", u, TotalUnread(want), TotalUnread(got))
		}
	}
}

// TestRestartReload verifies that a new ledger instance over the same
// database sees the last committed state, flags included.
func TestRestartReload(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := storage.NewBboltStorage(dbPath)
	if err != nil {
		t.Fatal(err)
	}

	l, err := New(store)
	if err != nil {
		t.Fatal(err)
	}

	m1, _ := l.Append("a", "b", "keep", nil)
	m2, _ := l.Append("a", "b", "retract", nil)
	_, _ = l.Append("b", "a", "unread", nil)
	if err := l.MarkRead("a", "b"); err != nil {
		t.Fatal(err)
	}
	if _, ok := l.Unsend(m2.ID, "a"); !ok {
		t.Fatal("unsend failed")
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store2, err := storage.NewBboltStorage(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store2.Close() }()

	l2, err := New(store2)
	if err != nil {
		t.Fatal(err)
	}

	conv := l2.ConversationBetween("a", "b")
	if len(conv) != 2 {
		t.Fatalf("expected 2 visible messages after reload, got %d", len(conv))
	}
	if conv[0].ID != m1.ID || !conv[0].Read {
		t.Errorf("read flag lost on reload: %+v", conv[0])
	}

	counts := l2.UnreadCountsFor("a")
	if counts["b"] != 1 {
		t.Errorf("expected 1 unread from b after reload, got %v", counts)
	}

	// New appends continue the sequence, keeping insertion order stable.
	m4, err := l2.Append("a", "b", "after restart", nil)
	if err != nil {
		t.Fatal(err)
	}
	if m4.Seq <= m2.Seq {
		t.Errorf("sequence did not advance past reloaded records: %d <= %d", m4.Seq, m2.Seq)
	}
}
