package events

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperengineering/bidkit/internal/config"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case e, ok := <-sub.C:
		if !ok {
			t.Fatal("subscription closed")
		}
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func assertNoEvent(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case e := <-sub.C:
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(20 * time.Millisecond):
	}
}

// --- Event constructors ---

func TestConstructors(t *testing.T) {
	e := TemplatesChanged("t1")
	if e.Kind != KindTemplatesChanged || e.EntityID != "t1" {
		t.Errorf("TemplatesChanged = %+v", e)
	}
	if len(e.ID) != 26 {
		t.Errorf("ID = %q, want a ULID", e.ID)
	}
	if e.At.IsZero() || e.At.Location() != time.UTC {
		t.Errorf("At = %v, want UTC now", e.At)
	}

	r := RouteChanged("/proposals/p1", "Deck Job")
	if r.Kind != KindRouteChanged || r.Path != "/proposals/p1" || r.Name != "Deck Job" {
		t.Errorf("RouteChanged = %+v", r)
	}
	if ContractChanged("p1").EntityID != "p1" || ProposalsChanged("").Kind != KindProposalsChanged {
		t.Error("unexpected constructor output")
	}
}

// --- MemoryBus ---

func TestMemoryBus_DeliversToMatchingSubscribers(t *testing.T) {
	bus := NewMemoryBus(8)
	defer bus.Close()

	all := bus.Subscribe()
	templates := bus.Subscribe(KindTemplatesChanged)
	routes := bus.Subscribe(KindRouteChanged)

	if err := bus.Publish(context.Background(), TemplatesChanged("t1")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if got := receive(t, all); got.EntityID != "t1" {
		t.Errorf("all got %+v", got)
	}
	if got := receive(t, templates); got.Kind != KindTemplatesChanged {
		t.Errorf("templates got %+v", got)
	}
	assertNoEvent(t, routes)
}

func TestMemoryBus_LastRefreshTracksTemplateChanges(t *testing.T) {
	bus := NewMemoryBus(1)
	defer bus.Close()

	if !bus.LastRefresh().IsZero() {
		t.Fatal("LastRefresh() should start at zero")
	}

	e := TemplatesChanged("")
	_ = bus.Publish(context.Background(), e)
	_ = bus.Publish(context.Background(), ProposalsChanged("p1"))

	if !bus.LastRefresh().Equal(e.At) {
		t.Errorf("LastRefresh() = %v, want %v", bus.LastRefresh(), e.At)
	}
}

func TestMemoryBus_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewMemoryBus(1)
	defer bus.Close()
	sub := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = bus.Publish(context.Background(), ProposalsChanged("p"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if len(sub.C) != 1 {
		t.Errorf("buffered = %d, want 1", len(sub.C))
	}
}

func TestMemoryBus_SubscriptionClose(t *testing.T) {
	bus := NewMemoryBus(4)
	defer bus.Close()

	sub := bus.Subscribe()
	sub.Close()
	sub.Close() // idempotent

	if _, ok := <-sub.C; ok {
		t.Error("C should be closed")
	}
	if err := bus.Publish(context.Background(), TemplatesChanged("")); err != nil {
		t.Errorf("Publish() after unsubscribe error = %v", err)
	}
}

func TestMemoryBus_Close(t *testing.T) {
	bus := NewMemoryBus(4)
	sub := bus.Subscribe()

	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-sub.C; ok {
		t.Error("subscription should be closed with the bus")
	}
	if err := bus.Publish(context.Background(), TemplatesChanged("")); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish() after Close error = %v, want ErrClosed", err)
	}

	late := bus.Subscribe()
	if _, ok := <-late.C; ok {
		t.Error("subscribing to a closed bus should yield a closed channel")
	}
	late.Close()
}

// --- RedisBus payload handling ---

func TestRedisBus_HandleDispatchesValidPayloads(t *testing.T) {
	b := &RedisBus{hub: newHub("redis", 4)}
	sub := b.Subscribe()

	e := ContractChanged("p1")
	raw, _ := json.Marshal(e)

	b.handle("not json")
	b.handle(`{"id":"x"}`) // no kind
	b.handle(string(raw))

	got := receive(t, sub)
	if got.ID != e.ID || got.Kind != KindContractChanged || got.EntityID != "p1" {
		t.Errorf("got %+v, want %+v", got, e)
	}
	assertNoEvent(t, sub)
}

func TestNewRedisBus_RequiresAddr(t *testing.T) {
	if _, err := NewRedisBus(context.Background(), RedisOptions{}); err == nil {
		t.Error("NewRedisBus() without addr should error")
	}
}

// --- JournalBus ---

func openTestJournal(t *testing.T, path string) *JournalBus {
	t.Helper()
	b, err := OpenJournal(context.Background(), JournalOptions{
		Path:         path,
		PollInterval: 10 * time.Millisecond,
		Buffer:       16,
	})
	if err != nil {
		t.Fatalf("OpenJournal() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestJournalBus_DeliversAcrossInstances(t *testing.T) {
	// Given two processes sharing one journal file
	path := filepath.Join(t.TempDir(), "events.db")
	writer := openTestJournal(t, path)
	reader := openTestJournal(t, path)
	sub := reader.Subscribe(KindTemplatesChanged)

	// When one publishes
	e := TemplatesChanged("t1")
	if err := writer.Publish(context.Background(), e); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	// Then the other receives it and records the refresh time
	got := receive(t, sub)
	if got.ID != e.ID || got.EntityID != "t1" {
		t.Errorf("got %+v, want %+v", got, e)
	}
	if !got.At.Equal(e.At) {
		t.Errorf("At = %v, want %v", got.At, e.At)
	}
	if !reader.LastRefresh().Equal(e.At) {
		t.Errorf("LastRefresh() = %v, want %v", reader.LastRefresh(), e.At)
	}
}

func TestJournalBus_PreservesOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	bus := openTestJournal(t, path)
	sub := bus.Subscribe()

	var want []string
	for i := 0; i < 5; i++ {
		e := ProposalsChanged("p")
		want = append(want, e.ID)
		if err := bus.Publish(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}
	for i, id := range want {
		if got := receive(t, sub); got.ID != id {
			t.Errorf("event %d = %s, want %s", i, got.ID, id)
		}
	}
}

func TestJournalBus_ReopenRestoresLastRefreshOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")

	first, err := OpenJournal(context.Background(), JournalOptions{Path: path, PollInterval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	e := TemplatesChanged("")
	if err := first.Publish(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	first.Close()

	second := openTestJournal(t, path)
	sub := second.Subscribe()

	if !second.LastRefresh().Equal(e.At) {
		t.Errorf("LastRefresh() = %v, want %v", second.LastRefresh(), e.At)
	}
	// History is not replayed to new subscribers
	if n, err := second.poll(context.Background()); err != nil || n != 0 {
		t.Errorf("poll() = %d, %v; want 0, nil", n, err)
	}
	assertNoEvent(t, sub)
}

func TestJournalBus_Prune(t *testing.T) {
	bus := openTestJournal(t, filepath.Join(t.TempDir(), "events.db"))

	old := ProposalsChanged("old")
	old.At = time.Now().Add(-48 * time.Hour).UTC()
	_ = bus.Publish(context.Background(), old)
	_ = bus.Publish(context.Background(), ProposalsChanged("new"))

	n, err := bus.Prune(context.Background(), time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() deleted %d rows, want 1", n)
	}
}

func TestJournalBus_RejectsZeroInterval(t *testing.T) {
	_, err := OpenJournal(context.Background(), JournalOptions{Path: filepath.Join(t.TempDir(), "x.db")})
	if err == nil {
		t.Error("OpenJournal() with zero interval should error")
	}
}

// --- Open ---

func TestOpen_SelectsDriver(t *testing.T) {
	cfg := &config.Config{Events: config.EventsConfig{Driver: config.DriverMemory, BufferSize: 4}}
	bus, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer bus.Close()
	if _, ok := bus.(*MemoryBus); !ok {
		t.Errorf("Open() = %T, want *MemoryBus", bus)
	}

	cfg.Events.Driver = config.DriverJournal
	cfg.Journal = config.JournalConfig{
		Path:         filepath.Join(t.TempDir(), "events.db"),
		PollInterval: config.Duration(time.Second),
	}
	jb, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open(journal) error = %v", err)
	}
	defer jb.Close()
	if _, ok := jb.(*JournalBus); !ok {
		t.Errorf("Open() = %T, want *JournalBus", jb)
	}

	cfg.Events.Driver = "carrier-pigeon"
	if _, err := Open(context.Background(), cfg); err == nil {
		t.Error("Open() with unknown driver should error")
	}
}
