package core

const GetConfigurationFeatureName = "GetConfiguration"

type ConfigurationKey struct {
	Key      string  `json:"key"`
	Readonly bool    `json:"readonly"`
	Value    *string `json:"value,omitempty"`
}

type GetConfigurationRequest struct {
	Key []string `json:"key,omitempty"`
}

type GetConfigurationResponse struct {
	ConfigurationKey []ConfigurationKey `json:"configurationKey,omitempty"`
	UnknownKey       []string           `json:"unknownKey,omitempty"`
}

func (r GetConfigurationRequest) GetFeatureName() string {
	return GetConfigurationFeatureName
}

func (r GetConfigurationResponse) GetFeatureName() string {
	return GetConfigurationFeatureName
}

func NewGetConfigurationRequest(keys []string) *GetConfigurationRequest {
	return &GetConfigurationRequest{Key: keys}
}
