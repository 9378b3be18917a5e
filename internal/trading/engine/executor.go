package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/Aidin1998/venuebook/internal/analytics/attribution"
	"github.com/Aidin1998/venuebook/internal/trading/bookmanager"
	"github.com/Aidin1998/venuebook/internal/trading/orderbook"
	"github.com/Aidin1998/venuebook/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BookExecutor fills orders against the resting liquidity of the books
// without mutating them. Orders without a venue go to the venue with the
// best price. Fees come from the fee schedule as taker fees.
type BookExecutor struct {
	books     *bookmanager.Manager
	fees      *attribution.FeeTracker
	latencyUs float64
	depth     int
}

// NewBookExecutor creates an executor reporting latencyUs on every fill
func NewBookExecutor(books *bookmanager.Manager, fees *attribution.FeeTracker, latencyUs float64) *BookExecutor {
	return &BookExecutor{books: books, fees: fees, latencyUs: latencyUs, depth: 50}
}

// Execute implements models.Executor
func (x *BookExecutor) Execute(ctx context.Context, order models.Order) (*models.Fill, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if order.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity %d", orderbook.ErrInvalidOrder, order.Quantity)
	}

	aggressor := aggressorOf(order.Side)

	venueName := order.Venue
	if venueName == "" {
		plan := x.books.BestExecutionPlan(order.Symbol, aggressor, order.Quantity)
		if len(plan) == 0 {
			return nil, nil
		}
		venueName = plan[0].Venue
	}

	book, err := x.books.Book(order.Symbol, venueName)
	if err != nil {
		return nil, err
	}

	bids, asks := book.Depth(x.depth)
	levels := asks
	if aggressor == orderbook.Ask {
		levels = bids
	}
	limit := limitOf(order)

	remaining := order.Quantity
	cost := decimal.Zero
	var best, worst decimal.Decimal
	for i, l := range levels {
		if limit.IsPositive() && !marketable(aggressor, l.Price, limit) {
			break
		}
		if i == 0 {
			best = l.Price
		}
		take := min(remaining, l.Size)
		cost = cost.Add(l.Price.Mul(decimal.NewFromInt(take)))
		worst = l.Price
		remaining -= take
		if remaining == 0 {
			break
		}
	}

	executed := order.Quantity - remaining
	if executed == 0 {
		return nil, nil
	}
	if order.Type == models.OrderTypeFOK && remaining > 0 {
		return nil, nil
	}

	avg := cost.Div(decimal.NewFromInt(executed)).Round(6)
	avgF, bestF, worstF := avg.InexactFloat64(), best.InexactFloat64(), worst.InexactFloat64()

	slippage := (avgF - bestF) / bestF * 10000
	impact := (worstF - bestF) / bestF * 10000
	if aggressor == orderbook.Ask {
		slippage, impact = -slippage, -impact
	}

	fee, rebate := x.fees.CalculateFee(venueName, executed, avgF, false)

	return &models.Fill{
		FillID:          uuid.NewString(),
		OrderID:         order.OrderID,
		Symbol:          order.Symbol,
		Venue:           venueName,
		Side:            order.Side,
		Quantity:        executed,
		Price:           avg,
		Timestamp:       order.Timestamp.Add(time.Duration(x.latencyUs * float64(time.Microsecond))),
		Fees:            fee,
		Rebate:          rebate,
		LatencyUs:       x.latencyUs,
		SlippageBps:     slippage,
		MarketImpactBps: impact,
	}, nil
}

// marketable reports whether a resting level at price can trade with a
// limit order on side at limit
func marketable(side orderbook.Side, price, limit decimal.Decimal) bool {
	if side == orderbook.Bid {
		return price.LessThanOrEqual(limit)
	}
	return price.GreaterThanOrEqual(limit)
}

func aggressorOf(side models.Side) orderbook.Side {
	if side == models.SideSell {
		return orderbook.Ask
	}
	return orderbook.Bid
}

// limitOf returns the price bound of order, zero for market orders
func limitOf(order models.Order) decimal.Decimal {
	if order.Type == models.OrderTypeMarket || !order.Price.IsPositive() {
		return decimal.Zero
	}
	return order.Price
}
