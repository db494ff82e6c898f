package internal

import "time"

type EventHandler interface {
	OnStatusNotification(event *EventMessage)
	OnTransactionStart(event *EventMessage)
	OnTransactionStop(event *EventMessage)
}

type EventMessage struct {
	ChargerId     string    `json:"charger_id"`
	Time          time.Time `json:"time"`
	TransactionId int       `json:"transaction_id"`
	Status        string    `json:"status"`
	Info          string    `json:"info"`
}
