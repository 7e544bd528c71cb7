package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/doncapon/yemisshop-sub004/internal/allocations"
	"github.com/doncapon/yemisshop-sub004/internal/finalization"
	"github.com/doncapon/yemisshop-sub004/internal/settings"
	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"

	"github.com/doncapon/yemisshop-sub004/api/middleware"
	"github.com/doncapon/yemisshop-sub004/api/responses"
	"github.com/doncapon/yemisshop-sub004/api/validators"
)

type PaymentFinalizer interface {
	Finalize(ctx context.Context, paymentID uuid.UUID) (*finalization.Result, error)
}

type ProfitRecomputer interface {
	Compute(ctx context.Context, paymentID uuid.UUID) (*models.ProfitBreakdown, error)
}

type AllocationOverrider interface {
	ForceMarkPaid(ctx context.Context, input allocations.ForceMarkPaidInput) (*allocations.ForceMarkPaidResult, error)
}

type SettingsRefresher interface {
	Refresh(ctx context.Context) (settings.Snapshot, error)
}

type effectResponse struct {
	Name    string `json:"name"`
	Event   string `json:"event"`
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
}

type finalizeResponse struct {
	PaymentID uuid.UUID        `json:"payment_id"`
	Status    string           `json:"status"`
	CoreRan   bool             `json:"core_ran"`
	Effects   []effectResponse `json:"effects"`
}

type profitResponse struct {
	PaymentID           uuid.UUID `json:"payment_id"`
	OrderID             uuid.UUID `json:"order_id"`
	Mode                string    `json:"mode"`
	AmountPaidMinor     int64     `json:"amount_paid_minor"`
	CogsMinor           int64     `json:"cogs_minor"`
	GatewayFeeMinor     int64     `json:"gateway_fee_minor"`
	GatewayFeeEstimated bool      `json:"gateway_fee_estimated"`
	CommsCostMinor      int64     `json:"comms_cost_minor"`
	BaseFeeMinor        int64     `json:"base_fee_minor"`
	ProfitMinor         int64     `json:"profit_minor"`
	CogsFallbackUsed    bool      `json:"cogs_fallback_used"`
	ComputedAt          time.Time `json:"computed_at"`
}

type markAllocationPaidRequest struct {
	WriteCredit bool   `json:"write_credit"`
	Note        string `json:"note" validate:"max=500"`
}

type markAllocationPaidResponse struct {
	AllocationID  uuid.UUID  `json:"allocation_id"`
	SupplierID    uuid.UUID  `json:"supplier_id"`
	AmountMinor   int64      `json:"amount_minor"`
	Status        string     `json:"status"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	AlreadyPaid   bool       `json:"already_paid"`
	CreditWritten bool       `json:"credit_written"`
	LedgerEntryID *uuid.UUID `json:"ledger_entry_id,omitempty"`
}

type settingsResponse struct {
	GatewayPercent              string `json:"gateway_percent"`
	GatewayInternationalPercent string `json:"gateway_international_percent"`
	GatewayFlatMinor            int64  `json:"gateway_flat_minor"`
	GatewayFlatWaiverMinor      int64  `json:"gateway_flat_waiver_minor"`
	GatewayCapMinor             int64  `json:"gateway_cap_minor"`
	BaseFeeMinor                int64  `json:"base_fee_minor"`
	CommsCostPerMessageMinor    int64  `json:"comms_cost_per_message_minor"`
	ProfitMode                  string `json:"profit_mode"`
	SplitEnabled                bool   `json:"split_enabled"`
}

// AdminFinalizePayment re-runs finalization for a payment. Completed steps
// are skipped, so the call is safe to repeat.
func AdminFinalizePayment(svc PaymentFinalizer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "finalization service unavailable"))
			return
		}
		paymentID, err := parseUUIDParam(r, "paymentId", "payment")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Finalize(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := finalizeResponse{
			PaymentID: result.PaymentID,
			Status:    string(result.Status),
			CoreRan:   result.CoreRan,
			Effects:   make([]effectResponse, 0, len(result.Effects)),
		}
		for _, effect := range result.Effects {
			item := effectResponse{
				Name:    effect.Name,
				Event:   string(effect.Event),
				Outcome: effect.Outcome,
				Reason:  effect.Reason,
			}
			if effect.Err != nil {
				item.Error = effect.Err.Error()
			}
			resp.Effects = append(resp.Effects, item)
		}
		responses.WriteSuccess(w, resp)
	}
}

// AdminRecomputeProfit recalculates and stores the profit breakdown.
func AdminRecomputeProfit(svc ProfitRecomputer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "profit service unavailable"))
			return
		}
		paymentID, err := parseUUIDParam(r, "paymentId", "payment")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		breakdown, err := svc.Compute(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, profitResponse{
			PaymentID:           breakdown.PaymentID,
			OrderID:             breakdown.OrderID,
			Mode:                string(breakdown.Mode),
			AmountPaidMinor:     breakdown.AmountPaidMinor,
			CogsMinor:           breakdown.CogsMinor,
			GatewayFeeMinor:     breakdown.GatewayFeeMinor,
			GatewayFeeEstimated: breakdown.GatewayFeeEstimated,
			CommsCostMinor:      breakdown.CommsCostMinor,
			BaseFeeMinor:        breakdown.BaseFeeMinor,
			ProfitMinor:         breakdown.ProfitMinor,
			CogsFallbackUsed:    breakdown.CogsFallbackUsed,
			ComputedAt:          breakdown.ComputedAt,
		})
	}
}

// AdminMarkAllocationPaid releases one held allocation by hand.
func AdminMarkAllocationPaid(svc AllocationOverrider, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "allocation service unavailable"))
			return
		}
		allocationID, err := parseUUIDParam(r, "allocationId", "allocation")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body markAllocationPaidRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ForceMarkPaid(r.Context(), allocations.ForceMarkPaidInput{
			AllocationID: allocationID,
			WriteCredit:  body.WriteCredit,
			Note:         validators.SanitizeString(body.Note, 500),
			Actor:        middleware.ActorFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		allocation := result.Allocation
		resp := markAllocationPaidResponse{
			AllocationID:  allocation.ID,
			SupplierID:    allocation.SupplierID,
			AmountMinor:   allocation.AmountMinor,
			Status:        string(allocation.Status),
			PaidAt:        allocation.PaidAt,
			AlreadyPaid:   result.AlreadyPaid,
			CreditWritten: result.CreditWritten,
		}
		if result.LedgerEntry != nil {
			id := result.LedgerEntry.ID
			resp.LedgerEntryID = &id
		}
		responses.WriteSuccess(w, resp)
	}
}

// AdminRefreshSettings reloads the settings snapshot from the database.
func AdminRefreshSettings(svc SettingsRefresher, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settings provider unavailable"))
			return
		}
		snapshot, err := svc.Refresh(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refresh settings"))
			return
		}
		responses.WriteSuccess(w, settingsResponse{
			GatewayPercent:              snapshot.Fees.Percent.String(),
			GatewayInternationalPercent: snapshot.Fees.InternationalPercent.String(),
			GatewayFlatMinor:            snapshot.Fees.FlatMinor,
			GatewayFlatWaiverMinor:      snapshot.Fees.FlatWaiverMinor,
			GatewayCapMinor:             snapshot.Fees.CapMinor,
			BaseFeeMinor:                snapshot.BaseFeeMinor,
			CommsCostPerMessageMinor:    snapshot.CommsCostPerMessageMinor,
			ProfitMode:                  string(snapshot.ProfitMode),
			SplitEnabled:                snapshot.SplitEnabled,
		})
	}
}
