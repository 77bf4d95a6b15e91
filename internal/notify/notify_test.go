package notify

import "testing"

func TestRecorder(t *testing.T) {
	var r Recorder
	if _, ok := r.Last(); ok {
		t.Fatal("empty recorder should have no last notice")
	}

	r.Notify(Info, "syncing")
	r.Notify(Error, "sync failed")

	got := r.Notices()
	if len(got) != 2 || got[0].Level != Info || got[1].Message != "sync failed" {
		t.Errorf("Notices() = %+v", got)
	}
	got[0].Message = "mutated"
	if r.Notices()[0].Message != "syncing" {
		t.Error("Notices() should return a copy")
	}
	if last, _ := r.Last(); last.Level != Error {
		t.Errorf("Last() = %+v", last)
	}
}

func TestOrDiscard(t *testing.T) {
	if OrDiscard(nil) != Discard {
		t.Error("OrDiscard(nil) should be Discard")
	}
	r := &Recorder{}
	if OrDiscard(r) != Notifier(r) {
		t.Error("OrDiscard should pass through a non-nil notifier")
	}
	Discard.Notify(Error, "ignored")
}
