package power

import "evhub/ocpp"

// Sender pushes an OCPP request down a charger's connection and returns
// the correlation id of the call.
type Sender interface {
	SendRequest(chargerId string, request ocpp.Request) (string, error)
}
