package server

import (
	"fmt"
	"sync"
	"time"

	"evhub/internal"
	"evhub/internal/scheduler"
	"evhub/metrics/counters"
	"evhub/models"
	"evhub/ocpp/core"
	"evhub/ocpp/smartcharging"
	"evhub/power"
	"evhub/registry"
	"evhub/types"
)

const (
	StopOutcomeSuccess = "success"
	StopOutcomeFailed  = "failed"
	StopOutcomeSkipped = "skipped"
)

// escalation offsets, relative to the moment the stop was requested
const (
	stopRemoteStopAt  = 2 * time.Second
	stopInoperativeAt = 3 * time.Second
	stopOperativeAt   = 5 * time.Second
	stopResetAt       = 7 * time.Second
	stopVerdictAt     = 8 * time.Second
)

// Broadcaster pushes a message to every dashboard.
type Broadcaster interface {
	Broadcast(message interface{})
}

// StopSequencer drives the escalating shutdown of a charging session:
// a zero-watt profile first, then RemoteStopTransaction, an availability
// bounce, and finally a soft reset. Every escalation step checks live
// state and does nothing once the charger has reported the stop itself.
type StopSequencer struct {
	registry *registry.Registry
	sender   power.Sender
	sched    scheduler.Scheduler
	logger   internal.LogHandler
	hub      Broadcaster
	persist  func(session *models.Session)

	mu      sync.Mutex
	pending map[string][]*scheduler.Task
}

func NewStopSequencer(reg *registry.Registry, sender power.Sender, sched scheduler.Scheduler, logger internal.LogHandler, hub Broadcaster, persist func(session *models.Session)) *StopSequencer {
	return &StopSequencer{
		registry: reg,
		sender:   sender,
		sched:    sched,
		logger:   logger,
		hub:      hub,
		persist:  persist,
		pending:  make(map[string][]*scheduler.Task),
	}
}

// Begin runs the stop sequence for the given charger. A sequence already
// running for the charger is replaced.
func (sq *StopSequencer) Begin(chargerId string) {
	ch, ok := sq.registry.Get(chargerId)
	if !ok {
		return
	}
	sq.Cancel(chargerId)

	hadSession := ch.IsCharging && ch.TransactionId != models.NoTransaction
	sq.logger.FeatureEvent("StopSequence", chargerId, fmt.Sprintf("stop requested; active transaction: %v", hadSession))

	// step 1, immediately: graceful power reduction to zero
	profile := smartcharging.NewWattLimitProfile(ch.TransactionId, 0)
	if _, err := sq.sender.SendRequest(chargerId, smartcharging.NewSetChargingProfileRequest(1, profile)); err != nil {
		sq.logger.Warn(fmt.Sprintf("stop sequence %s: zero-watt profile not delivered: %s", chargerId, err))
	}
	if hadSession {
		sq.registry.ApplyStatus(chargerId, models.StatusStopping)
		sq.hub.Broadcast(newStatusMessage(chargerId, models.StatusStopping, "stopping charging"))
	}

	tasks := []*scheduler.Task{
		sq.sched.After(stopRemoteStopAt, func() { sq.remoteStop(chargerId) }),
		sq.sched.After(stopInoperativeAt, func() { sq.changeAvailability(chargerId, types.AvailabilityTypeInoperative) }),
		sq.sched.After(stopOperativeAt, func() { sq.changeAvailability(chargerId, types.AvailabilityTypeOperative) }),
		sq.sched.After(stopResetAt, func() { sq.forceReset(chargerId) }),
		sq.sched.After(stopVerdictAt, func() { sq.verdict(chargerId, hadSession) }),
	}
	sq.mu.Lock()
	sq.pending[chargerId] = tasks
	sq.mu.Unlock()
}

// Cancel aborts a running sequence, typically because the charger
// disconnected mid-stop.
func (sq *StopSequencer) Cancel(chargerId string) {
	sq.mu.Lock()
	tasks := sq.pending[chargerId]
	delete(sq.pending, chargerId)
	sq.mu.Unlock()
	for _, task := range tasks {
		task.Cancel()
	}
}

func (sq *StopSequencer) remoteStop(chargerId string) {
	ch, ok := sq.registry.Get(chargerId)
	if !ok || !ch.IsCharging || ch.TransactionId == models.NoTransaction {
		return
	}
	if _, err := sq.sender.SendRequest(chargerId, core.NewRemoteStopTransactionRequest(ch.TransactionId)); err != nil {
		sq.logger.Warn(fmt.Sprintf("stop sequence %s: remote stop not delivered: %s", chargerId, err))
	}
}

func (sq *StopSequencer) changeAvailability(chargerId string, availability types.AvailabilityType) {
	ch, ok := sq.registry.Get(chargerId)
	if !ok || !ch.IsCharging {
		return
	}
	if _, err := sq.sender.SendRequest(chargerId, core.NewChangeAvailabilityRequest(1, availability)); err != nil {
		sq.logger.Warn(fmt.Sprintf("stop sequence %s: availability change not delivered: %s", chargerId, err))
	}
}

// forceReset is the last escalation: the charger ignored every polite
// request, so the session is closed on the server side and the charger
// is soft reset. The session record keeps whatever energy was accounted
// up to this point.
func (sq *StopSequencer) forceReset(chargerId string) {
	ch, ok := sq.registry.Get(chargerId)
	if !ok || !ch.IsCharging || ch.TransactionId == models.NoTransaction {
		return
	}
	session, err := sq.registry.EndTransaction(chargerId, ch.TransactionId, 0, sq.sched.Now())
	if err != nil {
		sq.logger.Error(fmt.Sprintf("stop sequence %s: closing stuck transaction", chargerId), err)
		return
	}
	session.StopReason = models.StopReasonForcedReset
	if sq.persist != nil {
		sq.persist(session)
	}
	sq.logger.FeatureEvent("StopSequence", chargerId, fmt.Sprintf("transaction %v closed by force, resetting charger", session.TransactionId))
	if _, err = sq.sender.SendRequest(chargerId, core.NewResetRequest(types.ResetTypeSoft)); err != nil {
		sq.logger.Warn(fmt.Sprintf("stop sequence %s: reset not delivered: %s", chargerId, err))
	}
	sq.hub.Broadcast(newChargingMessage(chargerId, false, session.TransactionId, session.EnergyKwh, "session closed by forced reset"))
}

func (sq *StopSequencer) verdict(chargerId string, hadSession bool) {
	sq.mu.Lock()
	delete(sq.pending, chargerId)
	sq.mu.Unlock()

	outcome := StopOutcomeSuccess
	ch, ok := sq.registry.Get(chargerId)
	switch {
	case !hadSession:
		outcome = StopOutcomeSkipped
	case ok && ch.IsCharging:
		outcome = StopOutcomeFailed
	}
	counters.ObserveStopOutcome(outcome)
	sq.logger.FeatureEvent("StopSequence", chargerId, fmt.Sprintf("stop sequence finished: %s", outcome))
	if outcome == StopOutcomeFailed {
		sq.hub.Broadcast(newErrorMessage(chargerId, "charger did not stop charging"))
	}
}
