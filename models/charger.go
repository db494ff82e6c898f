package models

import "time"

type ChargerStatus string

const (
	StatusOnline    ChargerStatus = "Online"
	StatusOffline   ChargerStatus = "Offline"
	StatusPreparing ChargerStatus = "Preparing"
	StatusCharging  ChargerStatus = "Charging"
	StatusStopping  ChargerStatus = "Stopping"
	StatusFinishing ChargerStatus = "Finishing"
	StatusUnknown   ChargerStatus = "Unknown"
)

// NoTransaction marks a charger with no active transaction.
const NoTransaction = -1

// Charger is the live state of one charge point. A record is created on
// first connection and survives disconnects; only session fields are
// volatile.
type Charger struct {
	Id            string        `json:"id"`
	Status        ChargerStatus `json:"status"`
	Connected     bool          `json:"connected"`
	IsCharging    bool          `json:"isCharging"`
	TransactionId int           `json:"-"`
	LastSeen      time.Time     `json:"-"`

	// session metrics
	Voltage       float64    `json:"voltage"`
	Current       float64    `json:"current"`
	Power         float64    `json:"power"`
	SessionEnergy float64    `json:"sessionEnergy"`
	StartTime     *time.Time `json:"startTime"`
	LastMeterTime *time.Time `json:"-"`

	// register reading (Wh) captured at session start; session energy is
	// measured against it whenever the charger reports the register
	MeterStart float64 `json:"-"`
	// set on the session recovery path until the first register reading
	// arrives to serve as the new baseline
	BaselinePending bool `json:"-"`

	ActiveTimer *Timer     `json:"activeTimer"`
	TimerSetAt  *time.Time `json:"timerSetAt"`

	Dlb DlbState `json:"dlbState"`
}

// DlbState is the site power snapshot reported alongside a charger's
// telemetry. Watts; grid power is signed, positive means import.
type DlbState struct {
	GridPower        float64   `json:"gridPower"`
	PvPower          float64   `json:"pvPower"`
	HomeLoad         float64   `json:"homeLoad"`
	TotalChargerLoad float64   `json:"totalChargerLoad"`
	AvailablePower   float64   `json:"availablePower"`
	Timestamp        time.Time `json:"timestamp"`
}

// MeterSample is one parsed telemetry report. Nil fields were absent from
// the sample and must leave the previous value untouched.
type MeterSample struct {
	Timestamp      time.Time
	Voltage        *float64
	Current        *float64
	Power          *float64
	EnergyRegister *float64
	GridPower      *float64
	PvPower        *float64
	HomeLoad       *float64
}

// HasDlbData reports whether the sample carries any site telemetry.
func (s *MeterSample) HasDlbData() bool {
	return s.GridPower != nil || s.PvPower != nil || s.HomeLoad != nil
}
