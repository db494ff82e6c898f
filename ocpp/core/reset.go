package core

import "evhub/types"

const ResetFeatureName = "Reset"

type ResetRequest struct {
	Type types.ResetType `json:"type"`
}

type ResetResponse struct {
	Status types.ResetStatus `json:"status"`
}

func (r ResetRequest) GetFeatureName() string {
	return ResetFeatureName
}

func (r ResetResponse) GetFeatureName() string {
	return ResetFeatureName
}

func NewResetRequest(resetType types.ResetType) *ResetRequest {
	return &ResetRequest{Type: resetType}
}
