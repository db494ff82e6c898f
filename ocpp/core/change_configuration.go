package core

const ChangeConfigurationFeatureName = "ChangeConfiguration"

type ConfigurationStatus string

const (
	ConfigurationStatusAccepted       ConfigurationStatus = "Accepted"
	ConfigurationStatusRejected       ConfigurationStatus = "Rejected"
	ConfigurationStatusRebootRequired ConfigurationStatus = "RebootRequired"
	ConfigurationStatusNotSupported   ConfigurationStatus = "NotSupported"
)

type ChangeConfigurationRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type ChangeConfigurationResponse struct {
	Status ConfigurationStatus `json:"status"`
}

func (r ChangeConfigurationRequest) GetFeatureName() string {
	return ChangeConfigurationFeatureName
}

func (r ChangeConfigurationResponse) GetFeatureName() string {
	return ChangeConfigurationFeatureName
}

func NewChangeConfigurationRequest(key, value string) *ChangeConfigurationRequest {
	return &ChangeConfigurationRequest{Key: key, Value: value}
}
