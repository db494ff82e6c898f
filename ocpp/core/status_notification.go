package core

const StatusNotificationFeatureName = "StatusNotification"

type ChargePointErrorCode string
type ChargePointStatus string

const (
	NoError                      ChargePointErrorCode = "NoError"
	ConnectorLockFailure         ChargePointErrorCode = "ConnectorLockFailure"
	EVCommunicationError         ChargePointErrorCode = "EVCommunicationError"
	GroundFailure                ChargePointErrorCode = "GroundFailure"
	HighTemperature              ChargePointErrorCode = "HighTemperature"
	InternalError                ChargePointErrorCode = "InternalError"
	OverCurrentFailure           ChargePointErrorCode = "OverCurrentFailure"
	PowerMeterFailure            ChargePointErrorCode = "PowerMeterFailure"
	PowerSwitchFailure           ChargePointErrorCode = "PowerSwitchFailure"
	ReaderFailure                ChargePointErrorCode = "ReaderFailure"
	WeakSignal                   ChargePointErrorCode = "WeakSignal"
	OtherError                   ChargePointErrorCode = "OtherError"
	ChargePointStatusAvailable   ChargePointStatus    = "Available"
	ChargePointStatusPreparing   ChargePointStatus    = "Preparing"
	ChargePointStatusCharging    ChargePointStatus    = "Charging"
	ChargePointStatusSuspendedEV ChargePointStatus    = "SuspendedEV"
	ChargePointStatusFinishing   ChargePointStatus    = "Finishing"
	ChargePointStatusUnavailable ChargePointStatus    = "Unavailable"
	ChargePointStatusFaulted     ChargePointStatus    = "Faulted"
)

type StatusNotificationRequest struct {
	ConnectorId     int                  `json:"connectorId"`
	ErrorCode       ChargePointErrorCode `json:"errorCode"`
	Info            string               `json:"info,omitempty"`
	Status          ChargePointStatus    `json:"status"`
	Timestamp       string               `json:"timestamp,omitempty"`
	VendorId        string               `json:"vendorId,omitempty"`
	VendorErrorCode string               `json:"vendorErrorCode,omitempty"`
}

type StatusNotificationResponse struct {
}

func (r StatusNotificationRequest) GetFeatureName() string {
	return StatusNotificationFeatureName
}

func (r StatusNotificationResponse) GetFeatureName() string {
	return StatusNotificationFeatureName
}

func NewStatusNotificationResponse() *StatusNotificationResponse {
	return &StatusNotificationResponse{}
}
