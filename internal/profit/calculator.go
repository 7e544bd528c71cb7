package profit

import "github.com/doncapon/yemisshop-sub004/pkg/enums"

// Inputs are the amounts profit is computed from, all in minor units.
type Inputs struct {
	AmountPaidMinor int64
	CogsMinor       int64
	GatewayFeeMinor int64
	CommsCostMinor  int64
	BaseFeeMinor    int64
}

// Compute returns realized profit. Simple mode only subtracts cost of goods;
// accurate mode also subtracts gateway fee, comms cost and the base fee.
func Compute(mode enums.ProfitMode, in Inputs) int64 {
	if mode == enums.ProfitModeSimple {
		return in.AmountPaidMinor - in.CogsMinor
	}
	return in.AmountPaidMinor - (in.CogsMinor + in.GatewayFeeMinor + in.CommsCostMinor + in.BaseFeeMinor)
}
