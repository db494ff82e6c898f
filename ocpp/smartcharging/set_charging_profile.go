package smartcharging

import "evhub/types"

const SetChargingProfileFeatureName = "SetChargingProfile"

type ChargingProfileStatus string

const (
	ChargingProfileStatusAccepted     ChargingProfileStatus = "Accepted"
	ChargingProfileStatusRejected     ChargingProfileStatus = "Rejected"
	ChargingProfileStatusNotSupported ChargingProfileStatus = "NotSupported"
)

type SetChargingProfileRequest struct {
	ConnectorId     int                    `json:"connectorId"`
	ChargingProfile *types.ChargingProfile `json:"csChargingProfiles"`
}

type SetChargingProfileResponse struct {
	Status ChargingProfileStatus `json:"status"`
}

func (r SetChargingProfileRequest) GetFeatureName() string {
	return SetChargingProfileFeatureName
}

func (r SetChargingProfileResponse) GetFeatureName() string {
	return SetChargingProfileFeatureName
}

func NewSetChargingProfileRequest(connectorId int, chargingProfile *types.ChargingProfile) *SetChargingProfileRequest {
	return &SetChargingProfileRequest{ConnectorId: connectorId, ChargingProfile: chargingProfile}
}

// NewWattLimitProfile builds a transaction profile with a single absolute
// period limiting draw to the given watt value, starting immediately.
func NewWattLimitProfile(transactionId int, limitWatts float64) *types.ChargingProfile {
	period := types.ChargingSchedulePeriod{
		StartPeriod: 0,
		Limit:       limitWatts,
	}
	return &types.ChargingProfile{
		ChargingProfileId:      1,
		StackLevel:             0,
		TransactionId:          transactionId,
		ChargingProfilePurpose: types.ChargingProfilePurposeTxProfile,
		ChargingProfileKind:    types.ChargingProfileKindAbsolute,
		ChargingSchedule: &types.ChargingSchedule{
			ChargingRateUnit:       types.ChargingRateUnitWatts,
			ChargingSchedulePeriod: []types.ChargingSchedulePeriod{period},
		},
	}
}
