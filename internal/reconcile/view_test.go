package reconcile

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func msgAt(userID string, sentAt time.Time) Message {
	return Message{
		ID:     uuid.New(),
		UserID: userID,
		Body:   "body",
		SentAt: sentAt,
		Status: StatusConfirmed,
	}
}

func assertOrdered(t *testing.T, msgs []Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		if msgs[i].SentAt.Before(msgs[i-1].SentAt) {
			t.Fatalf("view out of order at index %d: %v before %v", i, msgs[i].SentAt, msgs[i-1].SentAt)
		}
	}
}

func TestInsertKeepsSentAtOrder(t *testing.T) {
	v := NewView()
	base := time.Now()

	// Insert out of chronological order.
	v.Insert(msgAt("a", base.Add(3*time.Second)))
	v.Insert(msgAt("b", base.Add(1*time.Second)))
	v.Insert(msgAt("c", base.Add(2*time.Second)))

	msgs := v.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	assertOrdered(t, msgs)
	if msgs[0].UserID != "b" || msgs[1].UserID != "c" || msgs[2].UserID != "a" {
		t.Fatalf("unexpected order: %s %s %s", msgs[0].UserID, msgs[1].UserID, msgs[2].UserID)
	}
}

func TestInsertRejectsDuplicateID(t *testing.T) {
	v := NewView()
	m := msgAt("a", time.Now())

	if !v.Insert(m) {
		t.Fatal("first insert rejected")
	}
	if v.Insert(m) {
		t.Fatal("duplicate ID accepted")
	}
	if v.Len() != 1 {
		t.Fatalf("expected 1 message, got %d", v.Len())
	}
}

func TestConfirm(t *testing.T) {
	v := NewView()
	m := msgAt("a", time.Now())
	m.Status = StatusPending
	v.Insert(m)

	if !v.Confirm(m.ID) {
		t.Fatal("Confirm returned false for present ID")
	}
	if got := v.Messages()[0].Status; got != StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", got)
	}
	if v.Confirm(uuid.New()) {
		t.Error("Confirm returned true for absent ID")
	}
}

func TestRemove(t *testing.T) {
	v := NewView()
	m1 := msgAt("a", time.Now())
	m2 := msgAt("b", time.Now().Add(time.Second))
	v.Insert(m1)
	v.Insert(m2)

	if !v.Remove(m1.ID) {
		t.Fatal("Remove returned false for present ID")
	}
	if v.Contains(m1.ID) {
		t.Error("removed ID still present")
	}
	if v.Len() != 1 {
		t.Fatalf("expected 1 message, got %d", v.Len())
	}

	// The ID is re-insertable after removal.
	if !v.Insert(m1) {
		t.Error("could not re-insert a removed ID")
	}
}

func TestReplaceDropsDuplicatesAndSorts(t *testing.T) {
	v := NewView()
	v.Insert(msgAt("old", time.Now()))

	base := time.Now()
	dup := msgAt("x", base.Add(2*time.Second))
	msgs := []Message{
		msgAt("y", base.Add(3*time.Second)),
		dup,
		dup,
		msgAt("z", base.Add(1*time.Second)),
	}
	v.Replace(msgs)

	got := v.Messages()
	if len(got) != 3 {
		t.Fatalf("expected 3 messages after replace, got %d", len(got))
	}
	assertOrdered(t, got)
}

func TestStableOrderOnEqualTimestamps(t *testing.T) {
	v := NewView()
	at := time.Now()
	m1 := msgAt("first", at)
	m2 := msgAt("second", at)
	v.Insert(m1)
	v.Insert(m2)

	got := v.Messages()
	if got[0].UserID != "first" || got[1].UserID != "second" {
		t.Fatalf("equal timestamps lost insertion order: %s, %s", got[0].UserID, got[1].UserID)
	}
}

func TestMessagesReturnsCopy(t *testing.T) {
	v := NewView()
	m := msgAt("a", time.Now())
	v.Insert(m)

	got := v.Messages()
	got[0].Body = "mutated"

	if v.Messages()[0].Body != "body" {
		t.Fatal("mutating the returned slice changed view state")
	}
}
