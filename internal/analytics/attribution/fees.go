package attribution

import (
	"errors"
	"math"
	"sync"

	"github.com/Aidin1998/venuebook/internal/infrastructure/config"
	"go.uber.org/zap"
)

// ErrNoVenues is returned when venue selection has nothing to choose from
var ErrNoVenues = errors.New("no venues to choose from")

// FeeTracker applies the maker/taker schedule and monthly volume tiers
type FeeTracker struct {
	mu            sync.Mutex
	cfg           config.FeeConfig
	monthlyVolume map[string]int64
	monthlyFees   map[string]float64
	logger        *zap.Logger
}

// NewFeeTracker creates a fee tracker for cfg
func NewFeeTracker(cfg config.FeeConfig, logger *zap.Logger) *FeeTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeeTracker{
		cfg:           cfg,
		monthlyVolume: make(map[string]int64),
		monthlyFees:   make(map[string]float64),
		logger:        logger.Named("fees"),
	}
}

// CalculateFee returns the fee and rebate for a fill and books its volume
// towards the venue's monthly tier
func (t *FeeTracker) CalculateFee(venue string, volume int64, price float64, isMaker bool) (fee, rebate float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fee, rebate = t.estimate(venue, volume, price, isMaker)
	t.monthlyVolume[venue] += volume
	t.monthlyFees[venue] += fee - rebate
	return fee, rebate
}

// EstimateFee is CalculateFee without booking volume
func (t *FeeTracker) EstimateFee(venue string, volume int64, price float64, isMaker bool) (fee, rebate float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.estimate(venue, volume, price, isMaker)
}

func (t *FeeTracker) estimate(venue string, volume int64, price float64, isMaker bool) (float64, float64) {
	schedule, _ := t.cfg.FeeFor(venue)
	rate := schedule.Taker
	if isMaker {
		rate = schedule.Maker
	}

	// tiers lower charged fees and deepen rebates
	discount := t.cfg.TierDiscount * float64(t.tier(venue)-1)
	if rate > 0 {
		rate = math.Max(0, rate-discount)
	} else {
		rate -= discount
	}

	notional := float64(volume) * price
	if rate > 0 {
		return notional * rate, 0
	}
	return 0, -notional * rate
}

// Tier returns the 1-based volume tier of venue
func (t *FeeTracker) Tier(venue string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tier(venue)
}

func (t *FeeTracker) tier(venue string) int {
	vol := t.monthlyVolume[venue]
	for i := len(t.cfg.Tiers) - 1; i >= 0; i-- {
		if vol >= t.cfg.Tiers[i] {
			return i + 1
		}
	}
	return 1
}

// OptimizeVenueSelection picks the venue with the lowest net fee for an
// order. Ties keep the earlier venue.
func (t *FeeTracker) OptimizeVenueSelection(venues []string, size int64, price float64, canBeMaker bool) (string, error) {
	if len(venues) == 0 {
		return "", ErrNoVenues
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	best, bestCost := venues[0], math.Inf(1)
	for _, v := range venues {
		fee, rebate := t.estimate(v, size, price, canBeMaker)
		if net := fee - rebate; net < bestCost {
			best, bestCost = v, net
		}
	}

	t.logger.Debug("Venue selected on fees",
		zap.String("venue", best),
		zap.Float64("net_cost", bestCost),
		zap.Bool("maker", canBeMaker))
	return best, nil
}

// MonthlyVolume returns booked volume per venue
func (t *FeeTracker) MonthlyVolume() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int64, len(t.monthlyVolume))
	for v, n := range t.monthlyVolume {
		out[v] = n
	}
	return out
}

// MonthlyFees returns net fees (fees minus rebates) per venue
func (t *FeeTracker) MonthlyFees() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]float64, len(t.monthlyFees))
	for v, f := range t.monthlyFees {
		out[v] = f
	}
	return out
}

// ResetMonth clears the monthly volume and fee counters
func (t *FeeTracker) ResetMonth() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.monthlyVolume)
	clear(t.monthlyFees)
}
