package models

import "time"

const SessionDataType = "chargingSession"

// stop cause tags
const (
	StopReasonRemote      = "Remote"
	StopReasonLocal       = "Local"
	StopReasonForcedReset = "ForcedReset"
)

// Session is one completed charging session, ready for persistence.
type Session struct {
	ChargerId     string    `json:"chargerId" bson:"charger_id"`
	TransactionId int       `json:"transactionId" bson:"transaction_id"`
	StartTime     time.Time `json:"startTime" bson:"start_time"`
	EndTime       time.Time `json:"endTime" bson:"end_time"`
	MeterStart    float64   `json:"meterStart" bson:"meter_start"`
	MeterStop     float64   `json:"meterStop" bson:"meter_stop"`
	EnergyKwh     float64   `json:"energyKwh" bson:"energy_kwh"`
	Duration      int       `json:"duration" bson:"duration"` // minutes
	StopReason    string    `json:"stopReason" bson:"stop_reason"`
}

func (s *Session) DataType() string {
	return SessionDataType
}
