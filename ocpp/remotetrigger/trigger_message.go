package remotetrigger

const TriggerMessageFeatureName = "TriggerMessage"

type MessageTrigger string

const (
	TriggerBootNotification   MessageTrigger = "BootNotification"
	TriggerHeartbeat          MessageTrigger = "Heartbeat"
	TriggerMeterValues        MessageTrigger = "MeterValues"
	TriggerStatusNotification MessageTrigger = "StatusNotification"
)

type TriggerMessageStatus string

const (
	TriggerMessageStatusAccepted       TriggerMessageStatus = "Accepted"
	TriggerMessageStatusRejected       TriggerMessageStatus = "Rejected"
	TriggerMessageStatusNotImplemented TriggerMessageStatus = "NotImplemented"
)

type TriggerMessageRequest struct {
	RequestedMessage MessageTrigger `json:"requestedMessage"`
	ConnectorId      *int           `json:"connectorId,omitempty"`
}

type TriggerMessageResponse struct {
	Status TriggerMessageStatus `json:"status"`
}

func (r TriggerMessageRequest) GetFeatureName() string {
	return TriggerMessageFeatureName
}

func (r TriggerMessageResponse) GetFeatureName() string {
	return TriggerMessageFeatureName
}

func NewTriggerMessageRequest(trigger MessageTrigger, connectorId int) *TriggerMessageRequest {
	return &TriggerMessageRequest{RequestedMessage: trigger, ConnectorId: &connectorId}
}
