package progress

import (
	"context"
	"sync"
	"testing"
)

func TestPhaseNumberAndCritical(t *testing.T) {
	if got := PhaseSetup.Number(); got != 1 {
		t.Errorf("PhaseSetup.Number() = %d, want 1", got)
	}
	if got := PhaseNodeReadinessCheck.Number(); got != TotalPhases {
		t.Errorf("PhaseNodeReadinessCheck.Number() = %d, want %d", got, TotalPhases)
	}
	if !PhaseSetup.Critical() {
		t.Error("PhaseSetup should be critical")
	}
	if PhaseNodeReadinessCheck.Critical() {
		t.Error("PhaseNodeReadinessCheck should be non-critical")
	}
	if PhaseSharedBridgeCreation.Critical() {
		t.Error("PhaseSharedBridgeCreation should be non-critical")
	}
}

type fakeSink struct {
	mu       sync.Mutex
	statuses []Status
	logs     []LogEvent
}

func (f *fakeSink) Status(labID string, s Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, s)
}

func (f *fakeSink) Log(labID string, l LogEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, l)
}

func TestBroadcasterDeliversOnlyToSubscribedLab(t *testing.T) {
	b := NewBroadcaster(nil)
	subA := &fakeSink{}
	subB := &fakeSink{}
	unsubA := b.Subscribe("labAAAAA", subA)
	defer unsubA()
	b.Subscribe("labBBBBB", subB)

	b.PublishStatus(context.Background(), "labAAAAA", ForPhase(PhaseSetup, "starting"))

	if len(subA.statuses) != 1 {
		t.Fatalf("subA should have received 1 status, got %d", len(subA.statuses))
	}
	if len(subB.statuses) != 0 {
		t.Fatalf("subB should have received 0 statuses, got %d", len(subB.statuses))
	}
}

func TestBroadcasterUnsubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	sink := &fakeSink{}
	unsub := b.Subscribe("lab00000", sink)
	unsub()

	b.PublishStatus(context.Background(), "lab00000", ForPhase(PhaseSetup, "starting"))
	if len(sink.statuses) != 0 {
		t.Errorf("unsubscribed sink should not receive events, got %d", len(sink.statuses))
	}
}

type fakeRedis struct {
	published int
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) error {
	f.published++
	return nil
}

func TestBroadcasterMirrorsToRedis(t *testing.T) {
	r := &fakeRedis{}
	b := NewBroadcaster(r)
	b.PublishStatus(context.Background(), "lab00000", ForPhase(PhaseSetup, "starting"))
	b.PublishLog(context.Background(), "lab00000", LogEvent{Level: LogInfo, Message: "hi"})
	if r.published != 2 {
		t.Errorf("expected 2 redis publishes, got %d", r.published)
	}
}
