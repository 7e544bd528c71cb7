package router

import (
	"context"

	"github.com/doncapon/yemisshop-sub004/internal/analytics/types"
)

type fakeWriter struct {
	inserted []types.ProfitRow
	events   []types.PaymentEventRow
	err      error
}

func (f *fakeWriter) InsertProfit(_ context.Context, row types.ProfitRow) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, row)
	return nil
}

func (f *fakeWriter) InsertPaymentEvent(_ context.Context, row types.PaymentEventRow) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, row)
	return nil
}
