package server

import (
	"sync"
	"testing"
	"time"

	"evhub/internal"
	"evhub/internal/scheduler"
	"evhub/models"
	"evhub/ocpp"
	"evhub/ocpp/core"
	"evhub/ocpp/smartcharging"
	"evhub/registry"
)

type sentRequest struct {
	chargerId string
	request   ocpp.Request
}

type fakeSender struct {
	mu       sync.Mutex
	requests []sentRequest
}

func (f *fakeSender) SendRequest(chargerId string, request ocpp.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, sentRequest{chargerId: chargerId, request: request})
	return "call-id", nil
}

func (f *fakeSender) features() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.requests))
	for _, sent := range f.requests {
		names = append(names, sent.request.GetFeatureName())
	}
	return names
}

func (f *fakeSender) countFeature(feature string) int {
	count := 0
	for _, name := range f.features() {
		if name == feature {
			count++
		}
	}
	return count
}

type nopLogger struct{}

func (nopLogger) FeatureEvent(feature, id, text string) {}
func (nopLogger) RawDataEvent(direction, data string)   {}
func (nopLogger) Debug(text string)                     {}
func (nopLogger) Warn(text string)                      {}
func (nopLogger) Error(text string, err error)          {}

type fakeHub struct {
	mu       sync.Mutex
	messages []interface{}
}

func (f *fakeHub) Broadcast(message interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
}

type fakeStore struct {
	mu       sync.Mutex
	sessions []*models.Session
}

func (f *fakeStore) SaveSession(session *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, session)
	return nil
}

func (f *fakeStore) GetSessionsByPeriod(chargerId, period, viewType string) ([]models.Session, error) {
	return nil, nil
}

func (f *fakeStore) GetSessionsByCharger(chargerId string) ([]models.Session, error) {
	return nil, nil
}

func (f *fakeStore) GetChargerIds() ([]string, error) {
	return nil, nil
}

func (f *fakeStore) WriteLogMessage(data internal.Data) error {
	return nil
}

func (f *fakeStore) saved() []*models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.Session(nil), f.sessions...)
}

type stopFixture struct {
	registry *registry.Registry
	sender   *fakeSender
	store    *fakeStore
	hub      *fakeHub
	sim      *scheduler.Simulated
	stopper  *StopSequencer
}

func newStopFixture(t *testing.T) *stopFixture {
	t.Helper()
	f := &stopFixture{
		registry: registry.New(registry.PolicyAlwaysClear),
		sender:   &fakeSender{},
		store:    &fakeStore{},
		hub:      &fakeHub{},
		sim:      scheduler.NewSimulated(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
	f.stopper = NewStopSequencer(f.registry, f.sender, f.sim, nopLogger{}, f.hub, func(session *models.Session) {
		_ = f.store.SaveSession(session)
	})
	return f
}

func (f *stopFixture) startCharging(t *testing.T, chargerId string, txId int) {
	t.Helper()
	f.registry.UpsertOnConnect(chargerId)
	if !f.registry.BeginTransaction(chargerId, txId, 1000, f.sim.Now()) {
		t.Fatalf("could not start transaction on %s", chargerId)
	}
}

func TestStopSequenceGracefulStop(t *testing.T) {
	f := newStopFixture(t)
	f.startCharging(t, "cp-1", 77)

	f.stopper.Begin("cp-1")
	if got := f.sender.countFeature(smartcharging.SetChargingProfileFeatureName); got != 1 {
		t.Fatalf("expected immediate zero-watt profile, got %d", got)
	}
	if ch, _ := f.registry.Get("cp-1"); ch.Status != models.StatusStopping {
		t.Fatalf("expected Stopping status, got %s", ch.Status)
	}

	f.sim.Advance(2 * time.Second)
	if got := f.sender.countFeature(core.RemoteStopTransactionFeatureName); got != 1 {
		t.Fatalf("expected one remote stop, got %d", got)
	}

	// the charger obeys and reports its own stop before escalation starts
	if _, err := f.registry.EndTransaction("cp-1", 77, 4600, f.sim.Now()); err != nil {
		t.Fatalf("ending transaction: %v", err)
	}

	f.sim.Advance(10 * time.Second)
	if got := f.sender.countFeature(core.ChangeAvailabilityFeatureName); got != 0 {
		t.Errorf("availability bounce should be skipped after a clean stop, got %d", got)
	}
	if got := f.sender.countFeature(core.ResetFeatureName); got != 0 {
		t.Errorf("reset should be skipped after a clean stop, got %d", got)
	}
	if got := len(f.store.saved()); got != 0 {
		t.Errorf("sequencer must not persist a session the charger closed itself, got %d", got)
	}
}

func TestStopSequenceEscalatesToForcedReset(t *testing.T) {
	f := newStopFixture(t)
	f.startCharging(t, "cp-1", 42)

	f.stopper.Begin("cp-1")
	f.sim.Advance(10 * time.Second)

	want := []string{
		smartcharging.SetChargingProfileFeatureName,
		core.RemoteStopTransactionFeatureName,
		core.ChangeAvailabilityFeatureName,
		core.ChangeAvailabilityFeatureName,
		core.ResetFeatureName,
	}
	got := f.sender.features()
	if len(got) != len(want) {
		t.Fatalf("expected %d requests, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("request %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	sessions := f.store.saved()
	if len(sessions) != 1 {
		t.Fatalf("expected one forced session, got %d", len(sessions))
	}
	if sessions[0].StopReason != models.StopReasonForcedReset {
		t.Errorf("expected stop reason %s, got %s", models.StopReasonForcedReset, sessions[0].StopReason)
	}
	if sessions[0].TransactionId != 42 {
		t.Errorf("expected transaction 42, got %d", sessions[0].TransactionId)
	}

	ch, _ := f.registry.Get("cp-1")
	if ch.IsCharging || ch.TransactionId != models.NoTransaction {
		t.Errorf("session must be cleared after forced reset: %+v", ch)
	}
}

func TestStopSequenceSkippedWithoutTransaction(t *testing.T) {
	f := newStopFixture(t)
	f.registry.UpsertOnConnect("cp-1")

	f.stopper.Begin("cp-1")
	f.sim.Advance(10 * time.Second)

	if got := f.sender.countFeature(core.RemoteStopTransactionFeatureName); got != 0 {
		t.Errorf("idle charger must not receive a remote stop, got %d", got)
	}
	if got := f.sender.countFeature(core.ResetFeatureName); got != 0 {
		t.Errorf("idle charger must not be reset, got %d", got)
	}
	if got := len(f.store.saved()); got != 0 {
		t.Errorf("no session should be synthesized for an idle charger, got %d", got)
	}
}

func TestStopSequenceCancelledOnDisconnect(t *testing.T) {
	f := newStopFixture(t)
	f.startCharging(t, "cp-1", 9)

	f.stopper.Begin("cp-1")
	f.sim.Advance(1 * time.Second)
	f.stopper.Cancel("cp-1")
	f.registry.MarkDisconnected("cp-1")
	f.sim.Advance(10 * time.Second)

	got := f.sender.features()
	if len(got) != 1 || got[0] != smartcharging.SetChargingProfileFeatureName {
		t.Fatalf("only the initial profile should be sent, got %v", got)
	}
	if len(f.store.saved()) != 0 {
		t.Errorf("cancelled sequence must not persist a session")
	}
}

func TestStopSequenceUnknownChargerIsNoOp(t *testing.T) {
	f := newStopFixture(t)
	f.stopper.Begin("ghost")
	f.sim.Advance(10 * time.Second)
	if len(f.sender.features()) != 0 {
		t.Errorf("unknown charger must not receive requests, got %v", f.sender.features())
	}
}
