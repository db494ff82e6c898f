package core

import "evhub/types"

const ChangeAvailabilityFeatureName = "ChangeAvailability"

type ChangeAvailabilityRequest struct {
	ConnectorId int                    `json:"connectorId"`
	Type        types.AvailabilityType `json:"type"`
}

type ChangeAvailabilityResponse struct {
	Status types.AvailabilityStatus `json:"status"`
}

func (r ChangeAvailabilityRequest) GetFeatureName() string {
	return ChangeAvailabilityFeatureName
}

func (r ChangeAvailabilityResponse) GetFeatureName() string {
	return ChangeAvailabilityFeatureName
}

func NewChangeAvailabilityRequest(connectorId int, availabilityType types.AvailabilityType) *ChangeAvailabilityRequest {
	return &ChangeAvailabilityRequest{ConnectorId: connectorId, Type: availabilityType}
}
