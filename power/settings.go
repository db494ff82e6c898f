package power

import "sync"

// NominalVoltage is used for every amp/watt conversion in the allocator.
const NominalVoltage = 230.0

// Modes are the four independently switchable balancing behaviours.
type Modes struct {
	PvDynamicBalance bool `json:"pvDynamicBalance"`
	ExtremeMode      bool `json:"extremeMode"`
	NightFullSpeed   bool `json:"nightFullSpeed"`
	AntiOverload     bool `json:"antiOverload"`
}

// Config is one immutable snapshot of the site balancing configuration.
type Config struct {
	MainFuseAmps     float64 `json:"mainFuseAmps"`
	MinChargeAmps    float64 `json:"minChargeAmps"`
	MaxChargeAmps    float64 `json:"maxChargeAmps"`
	SafetyMarginAmps float64 `json:"safetyMarginAmps"`
	NightStartHour   int     `json:"nightStartHour"`
	NightEndHour     int     `json:"nightEndHour"`
	Modes            Modes   `json:"modes"`
}

// ConfigUpdate is a partial update; nil fields keep their current value.
type ConfigUpdate struct {
	MainFuseAmps     *float64 `json:"mainFuseAmps,omitempty"`
	MinChargeAmps    *float64 `json:"minChargeAmps,omitempty"`
	MaxChargeAmps    *float64 `json:"maxChargeAmps,omitempty"`
	SafetyMarginAmps *float64 `json:"safetyMarginAmps,omitempty"`
	NightStartHour   *int     `json:"nightStartHour,omitempty"`
	NightEndHour     *int     `json:"nightEndHour,omitempty"`
	PvDynamicBalance *bool    `json:"pvDynamicBalance,omitempty"`
	ExtremeMode      *bool    `json:"extremeMode,omitempty"`
	NightFullSpeed   *bool    `json:"nightFullSpeed,omitempty"`
	AntiOverload     *bool    `json:"antiOverload,omitempty"`
}

// Settings holds the process-wide balancing configuration. Read on every
// allocation pass, updated rarely through the config api.
type Settings struct {
	mu  sync.RWMutex
	cfg Config
}

func NewSettings(cfg Config) *Settings {
	return &Settings{cfg: cfg}
}

func (s *Settings) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Apply folds a partial update into the configuration and returns the new
// snapshot.
func (s *Settings) Apply(update ConfigUpdate) Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	if update.MainFuseAmps != nil {
		s.cfg.MainFuseAmps = *update.MainFuseAmps
	}
	if update.MinChargeAmps != nil {
		s.cfg.MinChargeAmps = *update.MinChargeAmps
	}
	if update.MaxChargeAmps != nil {
		s.cfg.MaxChargeAmps = *update.MaxChargeAmps
	}
	if update.SafetyMarginAmps != nil {
		s.cfg.SafetyMarginAmps = *update.SafetyMarginAmps
	}
	if update.NightStartHour != nil {
		s.cfg.NightStartHour = *update.NightStartHour
	}
	if update.NightEndHour != nil {
		s.cfg.NightEndHour = *update.NightEndHour
	}
	if update.PvDynamicBalance != nil {
		s.cfg.Modes.PvDynamicBalance = *update.PvDynamicBalance
	}
	if update.ExtremeMode != nil {
		s.cfg.Modes.ExtremeMode = *update.ExtremeMode
	}
	if update.NightFullSpeed != nil {
		s.cfg.Modes.NightFullSpeed = *update.NightFullSpeed
	}
	if update.AntiOverload != nil {
		s.cfg.Modes.AntiOverload = *update.AntiOverload
	}
	return s.cfg
}
