// Package registry owns the in-memory table of known chargers and their
// live state. All mutation goes through the registry so a charger's entry
// is only ever written under the registry lock.
package registry

import (
	"sort"
	"sync"
	"time"

	"evhub/models"
	"evhub/utility"
)

// RecoveryPolicy decides what happens to a charging flag inherited from a
// crash when the charger reconnects.
type RecoveryPolicy string

const (
	// PolicyAlwaysClear drops any stale session on reconnect; the charger
	// has to report its state again.
	PolicyAlwaysClear RecoveryPolicy = "always-clear"
	// PolicyResume keeps the previous session until the charger reports
	// otherwise.
	PolicyResume RecoveryPolicy = "resume"
)

type Registry struct {
	mu       sync.Mutex
	chargers map[string]*models.Charger
	policy   RecoveryPolicy
}

func New(policy RecoveryPolicy) *Registry {
	if policy != PolicyResume {
		policy = PolicyAlwaysClear
	}
	return &Registry{
		chargers: make(map[string]*models.Charger),
		policy:   policy,
	}
}

// UpsertOnConnect registers a charger connection. A returning charger
// keeps its accumulated configuration (timers, site telemetry); whether a
// stale charging flag survives depends on the recovery policy.
func (r *Registry) UpsertOnConnect(id string) models.Charger {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chargers[id]
	if !ok {
		c = &models.Charger{
			Id:            id,
			TransactionId: models.NoTransaction,
		}
		r.chargers[id] = c
	}
	c.Connected = true
	c.Status = models.StatusOnline
	c.LastSeen = time.Now()
	if r.policy == PolicyAlwaysClear && c.IsCharging {
		r.clearSession(c)
	}
	return *c
}

// MarkDisconnected flips the charger Offline without deleting it. Any
// in-flight session is dropped; timers and DLB state survive.
func (r *Registry) MarkDisconnected(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chargers[id]
	if !ok {
		return
	}
	c.Connected = false
	c.Status = models.StatusOffline
	if c.IsCharging {
		r.clearSession(c)
	}
}

func (r *Registry) Get(id string) (models.Charger, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chargers[id]
	if !ok {
		return models.Charger{}, false
	}
	return *c, true
}

// List returns a snapshot of every known charger, ordered by id.
func (r *Registry) List() []models.Charger {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := make([]models.Charger, 0, len(r.chargers))
	for _, c := range r.chargers {
		list = append(list, *c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Id < list[j].Id })
	return list
}

// ApplyMeterSample folds a telemetry sample into the charger state.
// Absent measurands keep their previous value. Session energy prefers
// register deltas and falls back to integrating power over the sampling
// gap. Returns the updated snapshot and whether site telemetry changed.
func (r *Registry) ApplyMeterSample(id string, sample models.MeterSample) (models.Charger, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chargers[id]
	if !ok {
		return models.Charger{}, false, utility.Err("unknown charger: " + id)
	}
	now := sample.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	c.LastSeen = now

	if sample.Voltage != nil {
		c.Voltage = *sample.Voltage
	}
	if sample.Current != nil {
		c.Current = *sample.Current
	}
	if sample.Power != nil {
		c.Power = *sample.Power
	}

	if c.IsCharging {
		switch {
		case sample.EnergyRegister != nil:
			if c.BaselinePending {
				c.MeterStart = *sample.EnergyRegister
				c.SessionEnergy = 0
				c.BaselinePending = false
			} else {
				delta := (*sample.EnergyRegister - c.MeterStart) / 1000
				if delta < 0 {
					delta = 0
				}
				c.SessionEnergy = delta
			}
		case sample.Power != nil && c.LastMeterTime != nil:
			dt := now.Sub(*c.LastMeterTime).Seconds()
			if dt > 0 {
				c.SessionEnergy += *sample.Power * dt / 3600 / 1000
			}
		}
		t := now
		c.LastMeterTime = &t
	} else {
		c.LastMeterTime = nil
	}

	dlbTouched := sample.HasDlbData()
	if dlbTouched {
		if sample.GridPower != nil {
			c.Dlb.GridPower = *sample.GridPower
		}
		if sample.PvPower != nil {
			c.Dlb.PvPower = *sample.PvPower
		}
		if sample.HomeLoad != nil {
			c.Dlb.HomeLoad = *sample.HomeLoad
		}
		c.Dlb.Timestamp = now
	}
	if sample.Power != nil {
		c.Dlb.TotalChargerLoad = *sample.Power
	}

	return *c, dlbTouched, nil
}

// ApplyStatus records an operational status report. Available and
// Finishing clear a charging flag that is still set (the clean path is a
// transaction stop, which has already run by then).
func (r *Registry) ApplyStatus(id string, status models.ChargerStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chargers[id]
	if !ok {
		return false
	}
	if status == models.StatusOnline || status == models.StatusFinishing {
		if c.IsCharging {
			r.clearSession(c)
		}
	}
	c.Status = status
	c.LastSeen = time.Now()
	return true
}

// BeginTransaction opens a session. Rejected while another transaction is
// active.
func (r *Registry) BeginTransaction(id string, txId int, startMeter float64, start time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chargers[id]
	if !ok {
		return false
	}
	if c.IsCharging || c.TransactionId != models.NoTransaction {
		return false
	}
	c.IsCharging = true
	c.TransactionId = txId
	c.Status = models.StatusCharging
	c.MeterStart = startMeter
	c.SessionEnergy = 0
	c.BaselinePending = false
	t := start
	c.StartTime = &t
	c.LastMeterTime = &t
	return true
}

// BeginRecoveredTransaction opens a session for a charger that reported
// Charging without a tracked transaction (e.g. after a restart). Energy
// restarts at zero once the next register reading sets the baseline.
func (r *Registry) BeginRecoveredTransaction(id string, txId int, start time.Time) bool {
	if !r.BeginTransaction(id, txId, 0, start) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.chargers[id]
	c.BaselinePending = true
	return true
}

// EndTransaction finalizes the active session and clears the charging
// state. Session energy is whatever the accounting above accumulated; the
// stop meter reading only backfills it when no samples arrived at all.
func (r *Registry) EndTransaction(id string, txId int, endMeter float64, end time.Time) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chargers[id]
	if !ok {
		return nil, utility.Err("unknown charger: " + id)
	}
	if !c.IsCharging {
		return nil, utility.Err("no active transaction on " + id)
	}
	if txId != c.TransactionId {
		return nil, utility.Err("transaction id mismatch on " + id)
	}

	session := &models.Session{
		ChargerId:     id,
		TransactionId: c.TransactionId,
		EndTime:       end,
		MeterStart:    c.MeterStart,
		MeterStop:     endMeter,
		EnergyKwh:     c.SessionEnergy,
	}
	if c.StartTime != nil {
		session.StartTime = *c.StartTime
		session.Duration = int(end.Sub(*c.StartTime).Minutes())
	}
	if session.EnergyKwh == 0 && endMeter > c.MeterStart {
		session.EnergyKwh = (endMeter - c.MeterStart) / 1000
	}

	r.clearSession(c)
	if c.Connected {
		c.Status = models.StatusOnline
	}
	return session, nil
}

// SetTimer replaces the charger's active timer; nil cancels it.
func (r *Registry) SetTimer(id string, timer *models.Timer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chargers[id]
	if !ok {
		return false
	}
	c.ActiveTimer = timer
	if timer == nil {
		c.TimerSetAt = nil
	} else {
		now := time.Now()
		c.TimerSetAt = &now
	}
	return true
}

// SetAvailablePower records the latest allocation result for dashboards.
func (r *Registry) SetAvailablePower(id string, watts float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.chargers[id]; ok {
		c.Dlb.AvailablePower = watts
	}
}

// clearSession zeroes everything tied to the current session. Caller
// holds the lock.
func (r *Registry) clearSession(c *models.Charger) {
	c.IsCharging = false
	c.TransactionId = models.NoTransaction
	c.StartTime = nil
	c.LastMeterTime = nil
	c.SessionEnergy = 0
	c.MeterStart = 0
	c.Power = 0
	c.Current = 0
	c.BaselinePending = false
}
