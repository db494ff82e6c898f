package registry

import (
	"math"
	"testing"
	"time"

	"evhub/models"
)

func fptr(v float64) *float64 { return &v }

func TestRegisterBasedEnergyAccounting(t *testing.T) {
	r := New(PolicyAlwaysClear)
	r.UpsertOnConnect("CP01")
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	if !r.BeginTransaction("CP01", 100, 12000, start) {
		t.Fatal("begin transaction rejected")
	}

	// irregular sampling gaps must not matter for register accounting
	readings := []struct {
		offset time.Duration
		reg    float64
	}{
		{10 * time.Second, 12400},
		{45 * time.Second, 13100},
		{5 * time.Minute, 16500},
	}
	var last models.Charger
	for _, s := range readings {
		c, _, err := r.ApplyMeterSample("CP01", models.MeterSample{
			Timestamp:      start.Add(s.offset),
			EnergyRegister: fptr(s.reg),
			Power:          fptr(7000),
		})
		if err != nil {
			t.Fatalf("apply sample: %v", err)
		}
		last = c
	}
	want := (16500 - 12000) / 1000.0
	if math.Abs(last.SessionEnergy-want) > 1e-9 {
		t.Fatalf("session energy = %v, want %v", last.SessionEnergy, want)
	}
}

func TestPowerIntegrationFallback(t *testing.T) {
	r := New(PolicyAlwaysClear)
	r.UpsertOnConnect("CP01")
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	r.BeginTransaction("CP01", 100, 0, start)

	// 7200 W for 30 minutes = 3.6 kWh, sampled in two 15-minute gaps
	for _, offset := range []time.Duration{15 * time.Minute, 30 * time.Minute} {
		_, _, err := r.ApplyMeterSample("CP01", models.MeterSample{
			Timestamp: start.Add(offset),
			Power:     fptr(7200),
		})
		if err != nil {
			t.Fatalf("apply sample: %v", err)
		}
	}
	c, _ := r.Get("CP01")
	if math.Abs(c.SessionEnergy-3.6) > 1e-9 {
		t.Fatalf("session energy = %v, want 3.6", c.SessionEnergy)
	}
}

func TestRegisterPreferredOverIntegration(t *testing.T) {
	r := New(PolicyAlwaysClear)
	r.UpsertOnConnect("CP01")
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	r.BeginTransaction("CP01", 100, 1000, start)

	// a sample carrying both power and a register must use the register
	_, _, err := r.ApplyMeterSample("CP01", models.MeterSample{
		Timestamp:      start.Add(time.Hour),
		Power:          fptr(99999),
		EnergyRegister: fptr(3500),
	})
	if err != nil {
		t.Fatalf("apply sample: %v", err)
	}
	c, _ := r.Get("CP01")
	if math.Abs(c.SessionEnergy-2.5) > 1e-9 {
		t.Fatalf("session energy = %v, want 2.5", c.SessionEnergy)
	}
}

func TestSecondTransactionRejected(t *testing.T) {
	r := New(PolicyAlwaysClear)
	r.UpsertOnConnect("CP01")
	now := time.Now()
	if !r.BeginTransaction("CP01", 1, 0, now) {
		t.Fatal("first transaction rejected")
	}
	if r.BeginTransaction("CP01", 2, 0, now) {
		t.Fatal("second transaction accepted while first active")
	}
	c, _ := r.Get("CP01")
	if c.TransactionId != 1 {
		t.Fatalf("transaction id = %d, want 1", c.TransactionId)
	}
}

func TestEndThenBeginResetsEnergy(t *testing.T) {
	r := New(PolicyAlwaysClear)
	r.UpsertOnConnect("CP01")
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	r.BeginTransaction("CP01", 1, 1000, start)
	r.ApplyMeterSample("CP01", models.MeterSample{
		Timestamp:      start.Add(time.Minute),
		EnergyRegister: fptr(5000),
	})

	session, err := r.EndTransaction("CP01", 1, 5000, start.Add(31*time.Minute))
	if err != nil {
		t.Fatalf("end transaction: %v", err)
	}
	if math.Abs(session.EnergyKwh-4.0) > 1e-9 {
		t.Fatalf("session energy = %v, want 4.0", session.EnergyKwh)
	}
	if session.Duration != 31 {
		t.Fatalf("duration = %d, want 31", session.Duration)
	}

	if !r.BeginTransaction("CP01", 2, 5000, start.Add(time.Hour)) {
		t.Fatal("begin after end rejected")
	}
	c, _ := r.Get("CP01")
	if c.SessionEnergy != 0 {
		t.Fatalf("session energy after new begin = %v, want 0", c.SessionEnergy)
	}
}

func TestEndTransactionWithoutActive(t *testing.T) {
	r := New(PolicyAlwaysClear)
	r.UpsertOnConnect("CP01")
	if _, err := r.EndTransaction("CP01", 1, 0, time.Now()); err == nil {
		t.Fatal("expected error ending without active transaction")
	}
}

func TestDurationRoundsDown(t *testing.T) {
	r := New(PolicyAlwaysClear)
	r.UpsertOnConnect("CP01")
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	r.BeginTransaction("CP01", 1, 0, start)
	session, err := r.EndTransaction("CP01", 1, 0, start.Add(12*time.Minute+59*time.Second))
	if err != nil {
		t.Fatalf("end transaction: %v", err)
	}
	if session.Duration != 12 {
		t.Fatalf("duration = %d, want 12", session.Duration)
	}
}

func TestPartialSampleKeepsPriorValues(t *testing.T) {
	r := New(PolicyAlwaysClear)
	r.UpsertOnConnect("CP01")
	r.ApplyMeterSample("CP01", models.MeterSample{
		Timestamp: time.Now(),
		Voltage:   fptr(231),
		Current:   fptr(16),
		GridPower: fptr(-2000),
	})
	r.ApplyMeterSample("CP01", models.MeterSample{
		Timestamp: time.Now(),
		Current:   fptr(12),
	})
	c, _ := r.Get("CP01")
	if c.Voltage != 231 {
		t.Fatalf("voltage overwritten: %v", c.Voltage)
	}
	if c.Current != 12 {
		t.Fatalf("current = %v, want 12", c.Current)
	}
	if c.Dlb.GridPower != -2000 {
		t.Fatalf("grid power lost: %v", c.Dlb.GridPower)
	}
}

func TestDisconnectMidSession(t *testing.T) {
	r := New(PolicyAlwaysClear)
	r.UpsertOnConnect("CP01")
	r.BeginTransaction("CP01", 1, 0, time.Now())
	r.SetTimer("CP01", &models.Timer{Mode: models.TimerModeDuration, Duration: 60})

	r.MarkDisconnected("CP01")
	c, ok := r.Get("CP01")
	if !ok {
		t.Fatal("charger deleted on disconnect")
	}
	if c.Status != models.StatusOffline || c.IsCharging {
		t.Fatalf("status=%s isCharging=%v after disconnect", c.Status, c.IsCharging)
	}
	if c.ActiveTimer == nil {
		t.Fatal("timer must survive disconnect")
	}
}

func TestReconnectPolicyClear(t *testing.T) {
	r := New(PolicyAlwaysClear)
	r.UpsertOnConnect("CP01")
	r.BeginTransaction("CP01", 1, 0, time.Now())

	// simulate a server restart view: charger still flagged charging
	c := r.UpsertOnConnect("CP01")
	if c.IsCharging {
		t.Fatal("always-clear policy must drop stale charging flag")
	}
}

func TestReconnectPolicyResume(t *testing.T) {
	r := New(PolicyResume)
	r.UpsertOnConnect("CP01")
	r.BeginTransaction("CP01", 1, 0, time.Now())

	c := r.UpsertOnConnect("CP01")
	if !c.IsCharging || c.TransactionId != 1 {
		t.Fatal("resume policy must keep the reported session")
	}
}

func TestRecoveryBaseline(t *testing.T) {
	r := New(PolicyAlwaysClear)
	r.UpsertOnConnect("CP01")
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	if !r.BeginRecoveredTransaction("CP01", 7, start) {
		t.Fatal("recovered transaction rejected")
	}
	c, _ := r.Get("CP01")
	if !c.BaselinePending {
		t.Fatal("baseline must be pending after recovery")
	}

	// first register reading becomes the baseline, energy restarts at 0
	r.ApplyMeterSample("CP01", models.MeterSample{
		Timestamp:      start.Add(10 * time.Second),
		EnergyRegister: fptr(40000),
	})
	c, _ = r.Get("CP01")
	if c.BaselinePending {
		t.Fatal("baseline still pending after register sample")
	}
	if c.SessionEnergy != 0 {
		t.Fatalf("session energy = %v, want 0 at baseline", c.SessionEnergy)
	}

	r.ApplyMeterSample("CP01", models.MeterSample{
		Timestamp:      start.Add(5 * time.Minute),
		EnergyRegister: fptr(41500),
	})
	c, _ = r.Get("CP01")
	if math.Abs(c.SessionEnergy-1.5) > 1e-9 {
		t.Fatalf("session energy = %v, want 1.5", c.SessionEnergy)
	}
}

func TestAvailableClearsChargingFlag(t *testing.T) {
	r := New(PolicyAlwaysClear)
	r.UpsertOnConnect("CP01")
	r.BeginTransaction("CP01", 1, 0, time.Now())
	r.ApplyStatus("CP01", models.StatusOnline)
	c, _ := r.Get("CP01")
	if c.IsCharging {
		t.Fatal("Available status must clear a stuck charging flag")
	}
}
