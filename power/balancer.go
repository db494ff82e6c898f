package power

import (
	"fmt"
	"math"
	"sync"
	"time"

	"evhub/internal"
	"evhub/internal/scheduler"
	"evhub/metrics/counters"
	"evhub/models"
	"evhub/ocpp/smartcharging"
	"evhub/registry"
)

const featureName = "LoadBalancer"

// allocation mode tags, reported on decisions for observability
const (
	ModeExtreme   = "extreme"
	ModeNightFull = "night-full-speed"
	ModePvDynamic = "pv-dynamic"
	ModeStandard  = "standard"
)

// Decision is the outcome of one allocation pass for one charger.
type Decision struct {
	TargetAmps float64 `json:"targetAmps"`
	LimitWatts float64 `json:"limitWatts"`
	Mode       string  `json:"mode"`
	Paused     bool    `json:"paused"`
	Throttled  bool    `json:"throttled"`
}

// Compute derives the target charging current for one charger. Pure
// function of the configuration, the site snapshot, the measured charging
// current and the hour of day; callers dispatch the result.
func Compute(cfg Config, dlb models.DlbState, currentAmps float64, hour int) Decision {
	d := Decision{}

	// the night window wraps past midnight
	night := hour >= cfg.NightStartHour || hour < cfg.NightEndHour
	nightBoost := cfg.Modes.NightFullSpeed && night

	solar := false
	switch {
	case cfg.Modes.ExtremeMode || nightBoost:
		d.TargetAmps = cfg.MaxChargeAmps
		if cfg.Modes.ExtremeMode {
			d.Mode = ModeExtreme
		} else {
			d.Mode = ModeNightFull
		}
	case cfg.Modes.PvDynamicBalance:
		// proportional controller seeking zero grid exchange: import
		// reduces the charge current, export raises it
		gridAmps := dlb.GridPower / NominalVoltage
		d.TargetAmps = currentAmps - gridAmps
		d.Mode = ModePvDynamic
		solar = true
	default:
		d.TargetAmps = cfg.MaxChargeAmps
		d.Mode = ModeStandard
	}

	// sub-minimum currents are invalid: pause under solar balancing,
	// clamp up everywhere else
	if solar && d.TargetAmps < cfg.MinChargeAmps {
		d.TargetAmps = 0
		d.Paused = true
	} else if d.TargetAmps > 0 && d.TargetAmps < cfg.MinChargeAmps {
		d.TargetAmps = cfg.MinChargeAmps
	}
	if d.TargetAmps > cfg.MaxChargeAmps {
		d.TargetAmps = cfg.MaxChargeAmps
	}

	// the safety cap wins over every branch above
	if cfg.Modes.AntiOverload {
		houseAmps := dlb.HomeLoad / NominalVoltage
		safeAvailable := cfg.MainFuseAmps - houseAmps - cfg.SafetyMarginAmps
		if d.TargetAmps > safeAvailable {
			d.TargetAmps = math.Max(0, safeAvailable)
			d.Throttled = true
		}
	}

	d.LimitWatts = math.Round(d.TargetAmps * NominalVoltage)
	if d.LimitWatts < 0 {
		d.LimitWatts = 0
	}
	return d
}

// Balancer periodically recomputes every charging charger's current limit
// and pushes it as a charging profile. Telemetry updates trigger an extra
// pass so the site reacts faster than the tick.
type Balancer struct {
	registry *registry.Registry
	settings *Settings
	server   Sender
	log      internal.LogHandler
	sched    scheduler.Scheduler
	mu       sync.Mutex
	tick     *scheduler.Task
	interval time.Duration
	now      func() time.Time

	// OnDecision, when set, receives every dispatched decision (dashboard
	// fan-out hook)
	OnDecision func(chargerId string, d Decision)
}

func NewBalancer(reg *registry.Registry, settings *Settings, server Sender, sched scheduler.Scheduler, interval time.Duration, log internal.LogHandler) *Balancer {
	return &Balancer{
		registry: reg,
		settings: settings,
		server:   server,
		log:      log,
		sched:    sched,
		interval: interval,
		now:      time.Now,
	}
}

// Start arms the periodic allocation tick.
func (b *Balancer) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tick != nil {
		return
	}
	b.tick = b.sched.Every(b.interval, b.AllocateAll)
}

func (b *Balancer) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tick != nil {
		b.tick.Cancel()
		b.tick = nil
	}
}

// AllocateAll runs one allocation pass over every eligible charger.
func (b *Balancer) AllocateAll() {
	for _, c := range b.registry.List() {
		b.allocate(c)
	}
}

// Allocate recomputes a single charger, used on telemetry updates.
func (b *Balancer) Allocate(chargerId string) {
	c, ok := b.registry.Get(chargerId)
	if !ok {
		return
	}
	b.allocate(c)
}

func (b *Balancer) allocate(c models.Charger) {
	// only balance chargers actively charging over a live connection with
	// site telemetry to reason about
	if !c.IsCharging || !c.Connected || c.Dlb.Timestamp.IsZero() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cfg := b.settings.Snapshot()
	decision := Compute(cfg, c.Dlb, c.Current, b.now().Hour())

	b.registry.SetAvailablePower(c.Id, decision.LimitWatts)
	counters.SetDlbTarget(c.Id, decision.TargetAmps)
	b.log.FeatureEvent(featureName, c.Id, fmt.Sprintf(
		"%s: target %.1fA (%.0fW), grid %.1fA, home %.1fA",
		decision.Mode, decision.TargetAmps, decision.LimitWatts,
		c.Dlb.GridPower/NominalVoltage, c.Dlb.HomeLoad/NominalVoltage))

	profile := smartcharging.NewWattLimitProfile(c.TransactionId, decision.LimitWatts)
	request := smartcharging.NewSetChargingProfileRequest(1, profile)
	if _, err := b.server.SendRequest(c.Id, request); err != nil {
		b.log.FeatureEvent(featureName, c.Id, fmt.Sprintf("error sending profile: %s", err))
		return
	}
	if b.OnDecision != nil {
		b.OnDecision(c.Id, decision)
	}
}
