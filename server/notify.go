package server

import (
	"time"

	"evhub/models"
	"evhub/power"
)

// Messages pushed to dashboard sockets. Every message carries a type
// discriminator so a single socket can multiplex all updates.

type chargerListMessage struct {
	Type     string           `json:"type"`
	Chargers []models.Charger `json:"chargers"`
}

func newChargerListMessage(chargers []models.Charger) *chargerListMessage {
	return &chargerListMessage{Type: "chargerList", Chargers: chargers}
}

type statusMessage struct {
	Type      string `json:"type"`
	ChargerId string `json:"chargerId"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

func newStatusMessage(chargerId string, status models.ChargerStatus, info string) *statusMessage {
	return &statusMessage{Type: "status", ChargerId: chargerId, Status: string(status), Message: info}
}

type chargingMessage struct {
	Type          string  `json:"type"`
	ChargerId     string  `json:"chargerId"`
	Charging      bool    `json:"charging"`
	TransactionId int     `json:"transactionId"`
	Energy        float64 `json:"energy"`
	Message       string  `json:"message,omitempty"`
}

func newChargingMessage(chargerId string, charging bool, transactionId int, energy float64, info string) *chargingMessage {
	return &chargingMessage{
		Type:          "charging",
		ChargerId:     chargerId,
		Charging:      charging,
		TransactionId: transactionId,
		Energy:        energy,
		Message:       info,
	}
}

type meterMessage struct {
	Type          string    `json:"type"`
	ChargerId     string    `json:"chargerId"`
	Voltage       float64   `json:"voltage"`
	Current       float64   `json:"current"`
	Power         float64   `json:"power"`
	SessionEnergy float64   `json:"sessionEnergy"`
	Time          time.Time `json:"time"`
}

func newMeterMessage(charger *models.Charger, at time.Time) *meterMessage {
	return &meterMessage{
		Type:          "meter",
		ChargerId:     charger.Id,
		Voltage:       charger.Voltage,
		Current:       charger.Current,
		Power:         charger.Power,
		SessionEnergy: charger.SessionEnergy,
		Time:          at,
	}
}

type dlbMessage struct {
	Type      string          `json:"type"`
	ChargerId string          `json:"chargerId"`
	Data      models.DlbState `json:"data"`
}

func newDlbMessage(chargerId string, data models.DlbState) *dlbMessage {
	return &dlbMessage{Type: "dlb", ChargerId: chargerId, Data: data}
}

type dlbTargetMessage struct {
	Type      string         `json:"type"`
	ChargerId string         `json:"chargerId"`
	Decision  power.Decision `json:"decision"`
}

func newDlbTargetMessage(chargerId string, decision power.Decision) *dlbTargetMessage {
	return &dlbTargetMessage{Type: "dlbTarget", ChargerId: chargerId, Decision: decision}
}

type dlbConfigMessage struct {
	Type   string       `json:"type"`
	Config power.Config `json:"config"`
}

func newDlbConfigMessage(cfg power.Config) *dlbConfigMessage {
	return &dlbConfigMessage{Type: "dlbConfig", Config: cfg}
}

type errorMessage struct {
	Type      string `json:"type"`
	ChargerId string `json:"chargerId,omitempty"`
	Message   string `json:"message"`
}

func newErrorMessage(chargerId string, info string) *errorMessage {
	return &errorMessage{Type: "error", ChargerId: chargerId, Message: info}
}

// DashboardCommand is what the dashboard sends back over its socket.
type DashboardCommand struct {
	Action    string        `json:"action"`
	ChargerId string        `json:"chargerId"`
	Timer     *models.Timer `json:"timer,omitempty"`
}
