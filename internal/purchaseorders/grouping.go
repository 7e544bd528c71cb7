// Package purchaseorders fans a paid order out into one purchase order per
// chosen supplier.
package purchaseorders

import (
	"sort"

	"github.com/google/uuid"

	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
)

// Group is the slice of an order one supplier fulfils.
type Group struct {
	SupplierID          uuid.UUID
	Items               []models.OrderItem
	SubtotalMinor       int64
	SupplierAmountMinor int64
	PlatformFeeMinor    int64
}

// ItemIDs lists the order items in the group.
func (g Group) ItemIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(g.Items))
	for _, item := range g.Items {
		ids = append(ids, item.ID)
	}
	return ids
}

// GroupBySupplier buckets items by chosen supplier. Items without a chosen
// supplier are left out. Groups are ordered by supplier id.
func GroupBySupplier(items []models.OrderItem) []Group {
	bySupplier := map[uuid.UUID]*Group{}
	for _, item := range items {
		if item.ChosenSupplierID == nil || *item.ChosenSupplierID == uuid.Nil {
			continue
		}
		supplierID := *item.ChosenSupplierID
		group, ok := bySupplier[supplierID]
		if !ok {
			group = &Group{SupplierID: supplierID}
			bySupplier[supplierID] = group
		}
		group.Items = append(group.Items, item)
		group.SubtotalMinor += item.CustomerTotal()
		if item.ChosenSupplierUnitPriceMinor != nil {
			group.SupplierAmountMinor += *item.ChosenSupplierUnitPriceMinor * int64(item.Quantity)
		}
	}

	groups := make([]Group, 0, len(bySupplier))
	for _, group := range bySupplier {
		group.PlatformFeeMinor = group.SubtotalMinor - group.SupplierAmountMinor
		if group.PlatformFeeMinor < 0 {
			group.PlatformFeeMinor = 0
		}
		groups = append(groups, *group)
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].SupplierID.String() < groups[j].SupplierID.String()
	})
	return groups
}
