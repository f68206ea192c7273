package escrow

import (
	"context"
	"fmt"

	"github.com/xraph/escrow/order"
	"github.com/xraph/escrow/types"
)

// Stats is the admin dashboard summary.
type Stats struct {
	Orders          map[order.Status]int64 `json:"orders"`
	TotalOrders     int64                  `json:"total_orders"`
	PlatformRevenue types.Money            `json:"platform_revenue"`
}

// Stats counts orders per status and sums the platform and content fees
// retained on completed orders.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		Orders:          make(map[order.Status]int64, len(order.Statuses)),
		PlatformRevenue: types.Zero(e.currency),
	}
	for _, status := range order.Statuses {
		n, err := e.store.CountOrders(ctx, order.ListOpts{Status: status})
		if err != nil {
			return nil, fmt.Errorf("escrow: count %s orders: %w", status, err)
		}
		st.Orders[status] = n
		st.TotalOrders += n
	}

	for offset := 0; ; offset += e.sweepBatchSize {
		batch, err := e.store.ListOrders(ctx, order.ListOpts{
			Status: order.StatusCompleted,
			Limit:  e.sweepBatchSize,
			Offset: offset,
		})
		if err != nil {
			return nil, fmt.Errorf("escrow: list completed orders: %w", err)
		}
		for _, o := range batch {
			st.PlatformRevenue = st.PlatformRevenue.Add(o.Retained())
		}
		if len(batch) < e.sweepBatchSize {
			break
		}
	}
	return st, nil
}
