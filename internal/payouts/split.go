package payouts

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/doncapon/yemisshop-sub004/internal/purchaseorders"
	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
	"github.com/doncapon/yemisshop-sub004/pkg/gateway"
)

// Split plan constants understood by the gateway.
const (
	SplitTypeFlat     = "flat"
	SplitBearerMain   = "account"
	skipReasonNoSplit = "supplier without subaccount"
)

// BuildSplitPlan weights each supplier's subaccount by its supplier amount.
// It returns nil when any supplier lacks a subaccount or there is nothing to
// split, in which case the platform collects and pays out after the fact.
func (s *Service) BuildSplitPlan(ctx context.Context, orderID uuid.UUID) (*gateway.SplitPlan, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	items, err := s.repo.ListOrderItems(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order items")
	}
	groups := purchaseorders.GroupBySupplier(items)
	if len(groups) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(groups))
	for _, group := range groups {
		ids = append(ids, group.SupplierID)
	}
	suppliers, err := s.repo.ListSuppliers(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load suppliers")
	}

	plan := &gateway.SplitPlan{Type: SplitTypeFlat, BearerType: SplitBearerMain}
	for _, group := range groups {
		supplier, ok := suppliers[group.SupplierID]
		if !ok || supplier.SubaccountCode == nil || *supplier.SubaccountCode == "" {
			if s.logg != nil {
				logCtx := s.logg.WithFields(ctx, map[string]any{
					"order_id":    orderID.String(),
					"supplier_id": group.SupplierID.String(),
				})
				s.logg.Info(logCtx, fmt.Sprintf("split plan not applicable: %s", skipReasonNoSplit))
			}
			return nil, nil
		}
		if group.SupplierAmountMinor <= 0 {
			continue
		}
		plan.Subaccounts = append(plan.Subaccounts, gateway.SplitShare{
			Subaccount: *supplier.SubaccountCode,
			Share:      group.SupplierAmountMinor,
		})
	}
	if len(plan.Subaccounts) == 0 {
		return nil, nil
	}
	return plan, nil
}
