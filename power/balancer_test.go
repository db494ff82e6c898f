package power

import (
	"math"
	"testing"
	"time"

	"evhub/internal/scheduler"
	"evhub/models"
	"evhub/ocpp"
	"evhub/ocpp/smartcharging"
	"evhub/registry"
)

func testConfig() Config {
	return Config{
		MainFuseAmps:     60,
		MinChargeAmps:    6,
		MaxChargeAmps:    32,
		SafetyMarginAmps: 1,
		NightStartHour:   22,
		NightEndHour:     6,
		Modes: Modes{
			PvDynamicBalance: true,
			AntiOverload:     true,
		},
	}
}

func TestComputeSolarExport(t *testing.T) {
	// exporting 2300 W (10 A) while drawing 6 A: raise target to 16 A
	dlb := models.DlbState{GridPower: -2300, HomeLoad: 3000}
	d := Compute(testConfig(), dlb, 6, 12)
	if math.Abs(d.TargetAmps-16) > 1e-9 {
		t.Fatalf("target = %v, want 16", d.TargetAmps)
	}
	if d.LimitWatts != 3680 {
		t.Fatalf("limit = %v, want 3680", d.LimitWatts)
	}
	if d.Mode != ModePvDynamic || d.Paused || d.Throttled {
		t.Fatalf("decision flags wrong: %+v", d)
	}
}

func TestComputeSolarImportReduces(t *testing.T) {
	// importing 1150 W (5 A) while drawing 16 A: reduce to 11 A
	dlb := models.DlbState{GridPower: 1150}
	d := Compute(testConfig(), dlb, 16, 12)
	if math.Abs(d.TargetAmps-11) > 1e-9 {
		t.Fatalf("target = %v, want 11", d.TargetAmps)
	}
}

func TestComputeAntiOverloadClampsToZero(t *testing.T) {
	// the house alone saturates the 60 A fuse; target must clamp to 0,
	// never negative
	dlb := models.DlbState{GridPower: -2300, HomeLoad: 13800}
	d := Compute(testConfig(), dlb, 6, 12)
	if d.TargetAmps != 0 {
		t.Fatalf("target = %v, want 0", d.TargetAmps)
	}
	if d.LimitWatts != 0 {
		t.Fatalf("limit = %v, want 0", d.LimitWatts)
	}
	if !d.Throttled {
		t.Fatal("expected throttled decision")
	}
}

func TestComputeAntiOverloadPartialClamp(t *testing.T) {
	// 11500 W house load = 50 A; available = 60 - 50 - 1 = 9 A
	cfg := testConfig()
	cfg.Modes.PvDynamicBalance = false
	dlb := models.DlbState{HomeLoad: 11500}
	d := Compute(cfg, dlb, 0, 12)
	if math.Abs(d.TargetAmps-9) > 1e-9 {
		t.Fatalf("target = %v, want 9", d.TargetAmps)
	}
}

func TestComputeExtremeOverridesSolar(t *testing.T) {
	cfg := testConfig()
	cfg.Modes.ExtremeMode = true
	cfg.Modes.AntiOverload = false
	// heavy import would normally throttle hard
	dlb := models.DlbState{GridPower: 5000}
	d := Compute(cfg, dlb, 6, 12)
	if d.TargetAmps != cfg.MaxChargeAmps {
		t.Fatalf("target = %v, want max %v", d.TargetAmps, cfg.MaxChargeAmps)
	}
	if d.Mode != ModeExtreme {
		t.Fatalf("mode = %s, want %s", d.Mode, ModeExtreme)
	}
}

func TestComputeNightWindowWrapsMidnight(t *testing.T) {
	cfg := testConfig()
	cfg.Modes.NightFullSpeed = true
	cfg.Modes.AntiOverload = false
	dlb := models.DlbState{GridPower: 5000}

	cases := []struct {
		hour  int
		night bool
	}{
		{23, true},
		{2, true},
		{5, true},
		{6, false},
		{12, false},
		{21, false},
		{22, true},
	}
	for _, tc := range cases {
		d := Compute(cfg, dlb, 6, tc.hour)
		isBoost := d.Mode == ModeNightFull
		if isBoost != tc.night {
			t.Errorf("hour %d: mode %s, want night=%v", tc.hour, d.Mode, tc.night)
		}
	}
}

func TestComputeLowSolarPauses(t *testing.T) {
	// importing 1150 W (5 A) at 6 A draw leaves 1 A, below the 6 A
	// minimum: solar balancing pauses instead of force-feeding
	dlb := models.DlbState{GridPower: 1150}
	d := Compute(testConfig(), dlb, 6, 12)
	if d.TargetAmps != 0 || !d.Paused {
		t.Fatalf("expected paused 0A decision, got %+v", d)
	}
}

func TestComputeStandardFallback(t *testing.T) {
	// no smart mode active: plug-and-charge at the configured maximum
	cfg := testConfig()
	cfg.Modes.PvDynamicBalance = false
	d := Compute(cfg, models.DlbState{}, 0, 12)
	if d.TargetAmps != cfg.MaxChargeAmps || d.Mode != ModeStandard {
		t.Fatalf("expected standard max %v, got %+v", cfg.MaxChargeAmps, d)
	}
}

func TestComputeMaxClamp(t *testing.T) {
	// exporting 23000 W would push the target far past the maximum
	dlb := models.DlbState{GridPower: -23000}
	d := Compute(testConfig(), dlb, 6, 12)
	if d.TargetAmps != 32 {
		t.Fatalf("target = %v, want 32", d.TargetAmps)
	}
}

func TestComputeIdempotent(t *testing.T) {
	dlb := models.DlbState{GridPower: -2300, HomeLoad: 3000}
	first := Compute(testConfig(), dlb, 6, 12)
	second := Compute(testConfig(), dlb, 6, 12)
	if first != second {
		t.Fatalf("repeated computation diverged: %+v vs %+v", first, second)
	}
}

type fakeSender struct {
	requests []ocpp.Request
	ids      []string
}

func (f *fakeSender) SendRequest(chargerId string, request ocpp.Request) (string, error) {
	f.requests = append(f.requests, request)
	f.ids = append(f.ids, chargerId)
	return "uid", nil
}

type nopLogger struct{}

func (nopLogger) FeatureEvent(_, _, _ string) {}
func (nopLogger) RawDataEvent(_, _ string)    {}
func (nopLogger) Debug(_ string)              {}
func (nopLogger) Warn(_ string)               {}
func (nopLogger) Error(_ string, _ error)     {}

func chargingCharger(t *testing.T, reg *registry.Registry, id string) {
	t.Helper()
	reg.UpsertOnConnect(id)
	if !reg.BeginTransaction(id, 1, 0, time.Now()) {
		t.Fatalf("begin transaction for %s", id)
	}
	grid := -2300.0
	if _, _, err := reg.ApplyMeterSample(id, models.MeterSample{
		Timestamp: time.Now(),
		Current:   fptr(6),
		GridPower: &grid,
	}); err != nil {
		t.Fatal(err)
	}
}

func fptr(v float64) *float64 { return &v }

func TestBalancerDispatchesProfile(t *testing.T) {
	reg := registry.New(registry.PolicyAlwaysClear)
	sender := &fakeSender{}
	sim := scheduler.NewSimulated(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	b := NewBalancer(reg, NewSettings(testConfig()), sender, sim, 15*time.Second, nopLogger{})
	b.now = sim.Now

	chargingCharger(t, reg, "CP01")
	b.AllocateAll()

	if len(sender.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(sender.requests))
	}
	req, ok := sender.requests[0].(*smartcharging.SetChargingProfileRequest)
	if !ok {
		t.Fatalf("unexpected request type %T", sender.requests[0])
	}
	limit := req.ChargingProfile.ChargingSchedule.ChargingSchedulePeriod[0].Limit
	if limit != 3680 {
		t.Fatalf("limit = %v, want 3680", limit)
	}
	c, _ := reg.Get("CP01")
	if c.Dlb.AvailablePower != 3680 {
		t.Fatalf("available power = %v, want 3680", c.Dlb.AvailablePower)
	}
}

func TestBalancerSkipsIdleAndOffline(t *testing.T) {
	reg := registry.New(registry.PolicyAlwaysClear)
	sender := &fakeSender{}
	sim := scheduler.NewSimulated(time.Now())
	b := NewBalancer(reg, NewSettings(testConfig()), sender, sim, 15*time.Second, nopLogger{})
	b.now = sim.Now

	// idle charger with telemetry
	reg.UpsertOnConnect("IDLE")
	grid := -2300.0
	reg.ApplyMeterSample("IDLE", models.MeterSample{Timestamp: time.Now(), GridPower: &grid})

	// charging charger that disconnected
	chargingCharger(t, reg, "GONE")
	reg.MarkDisconnected("GONE")

	b.AllocateAll()
	if len(sender.requests) != 0 {
		t.Fatalf("expected no dispatch, got %d", len(sender.requests))
	}
}

func TestBalancerPeriodicTick(t *testing.T) {
	reg := registry.New(registry.PolicyAlwaysClear)
	sender := &fakeSender{}
	sim := scheduler.NewSimulated(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	b := NewBalancer(reg, NewSettings(testConfig()), sender, sim, 15*time.Second, nopLogger{})
	b.now = sim.Now

	chargingCharger(t, reg, "CP01")
	b.Start()
	defer b.Stop()
	sim.Advance(46 * time.Second)

	if len(sender.requests) != 3 {
		t.Fatalf("expected 3 periodic dispatches, got %d", len(sender.requests))
	}
}

func TestSettingsPartialUpdate(t *testing.T) {
	s := NewSettings(testConfig())
	extreme := true
	fuse := 40.0
	cfg := s.Apply(ConfigUpdate{ExtremeMode: &extreme, MainFuseAmps: &fuse})
	if !cfg.Modes.ExtremeMode {
		t.Fatal("extreme mode not applied")
	}
	if cfg.MainFuseAmps != 40 {
		t.Fatalf("fuse = %v, want 40", cfg.MainFuseAmps)
	}
	// untouched fields keep their value
	if !cfg.Modes.PvDynamicBalance || cfg.MaxChargeAmps != 32 {
		t.Fatalf("unrelated fields changed: %+v", cfg)
	}
}
