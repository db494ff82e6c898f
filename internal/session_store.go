package internal

import "evhub/models"

// SessionStore is the durable record of completed charging sessions. Store
// failures are logged by callers, never surfaced on the charger protocol.
type SessionStore interface {
	SaveSession(session *models.Session) error
	GetSessionsByPeriod(chargerId, period, viewType string) ([]models.Session, error)
	GetSessionsByCharger(chargerId string) ([]models.Session, error)
	GetChargerIds() ([]string, error)
	WriteLogMessage(data Data) error
}

type Data interface {
	DataType() string
}
