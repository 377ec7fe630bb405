package funds

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestReconcilerSnapshot(t *testing.T) {
	fx := newServiceFixture(t)
	fx.seedPendingFund(0, testDigest(0x01))
	fx.seedPendingFund(1, testDigest(0x02))

	r := NewReconciler(fx.service, 10*time.Millisecond, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer r.Stop(context.Background())

	// The first sync runs during Start, so the snapshot is immediately
	// populated.
	funds, lastSync := r.Snapshot()
	if len(funds) != 2 {
		t.Fatalf("expected 2 funds, got %d", len(funds))
	}
	if lastSync.IsZero() {
		t.Fatal("expected last sync timestamp")
	}
}

func TestReconcilerPicksUpNewFunds(t *testing.T) {
	fx := newServiceFixture(t)
	fx.seedPendingFund(0, testDigest(0x03))

	r := NewReconciler(fx.service, 5*time.Millisecond, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer r.Stop(context.Background())

	fx.seedPendingFund(1, testDigest(0x04))

	deadline := time.After(2 * time.Second)
	for {
		funds, _ := r.Snapshot()
		if len(funds) == 2 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("reconciler never observed the new fund, have %d", len(funds))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestReconcilerToleratesUndecodableEntries(t *testing.T) {
	fx := newServiceFixture(t)
	fx.seedPendingFund(0, testDigest(0x05))
	fx.fake.SeedRawEntry(1, json.RawMessage(`not json`))

	r := NewReconciler(fx.service, 10*time.Millisecond, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer r.Stop(context.Background())

	funds, lastSync := r.Snapshot()
	if len(funds) != 1 {
		t.Fatalf("expected the decodable fund only, got %d", len(funds))
	}
	if lastSync.IsZero() {
		t.Fatal("sync must complete despite bad entries")
	}
}

func TestReconcilerStopIsIdempotent(t *testing.T) {
	fx := newServiceFixture(t)
	r := NewReconciler(fx.service, 10*time.Millisecond, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
