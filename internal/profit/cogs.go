package profit

import (
	"github.com/google/uuid"

	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
)

// CogsLine is the cost basis of one order line.
type CogsLine struct {
	ItemID        uuid.UUID        `json:"item_id"`
	ProductID     uuid.UUID        `json:"product_id"`
	VariantID     *uuid.UUID       `json:"variant_id,omitempty"`
	Quantity      int              `json:"quantity"`
	UnitCostMinor int64            `json:"unit_cost_minor"`
	TotalMinor    int64            `json:"total_minor"`
	Source        enums.CogsSource `json:"source"`
}

// Cogs is the resolved cost of goods for an order.
type Cogs struct {
	TotalMinor   int64
	FallbackUsed bool
	Lines        []CogsLine
}

// ResolveCogs prices every line at the chosen supplier's contracted unit
// price, else the cheapest active in-stock offer for the exact product and
// variant, else the cheapest active offer for the product ignoring variant.
// Lines with no price at all cost zero and are reported as missing.
func ResolveCogs(items []models.OrderItem, offers []models.SupplierOffer) Cogs {
	byProduct := map[uuid.UUID][]models.SupplierOffer{}
	for _, offer := range offers {
		if !offer.IsActive {
			continue
		}
		byProduct[offer.ProductID] = append(byProduct[offer.ProductID], offer)
	}

	out := Cogs{Lines: make([]CogsLine, 0, len(items))}
	for _, item := range items {
		line := CogsLine{
			ItemID:    item.ID,
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			Source:    enums.CogsSourceMissing,
		}
		switch {
		case item.ChosenSupplierUnitPriceMinor != nil:
			line.UnitCostMinor = *item.ChosenSupplierUnitPriceMinor
			line.Source = enums.CogsSourceChosenSupplier
		default:
			candidates := byProduct[item.ProductID]
			if price, ok := cheapest(candidates, func(o models.SupplierOffer) bool {
				return o.InStock && sameVariant(o.VariantID, item.VariantID)
			}); ok {
				line.UnitCostMinor = price
				line.Source = enums.CogsSourceVariantOffer
			} else if price, ok := cheapest(candidates, nil); ok {
				line.UnitCostMinor = price
				line.Source = enums.CogsSourceProductOffer
			}
		}
		if line.Source != enums.CogsSourceChosenSupplier {
			out.FallbackUsed = true
		}
		line.TotalMinor = line.UnitCostMinor * int64(item.Quantity)
		out.TotalMinor += line.TotalMinor
		out.Lines = append(out.Lines, line)
	}
	return out
}

func cheapest(offers []models.SupplierOffer, keep func(models.SupplierOffer) bool) (int64, bool) {
	var (
		best  int64
		found bool
	)
	for _, offer := range offers {
		if keep != nil && !keep(offer) {
			continue
		}
		if !found || offer.PriceMinor < best {
			best = offer.PriceMinor
			found = true
		}
	}
	return best, found
}

func sameVariant(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
