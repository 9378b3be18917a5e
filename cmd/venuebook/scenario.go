package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Aidin1998/venuebook/internal/trading/bookmanager"
	"github.com/Aidin1998/venuebook/internal/trading/engine"
	"github.com/Aidin1998/venuebook/pkg/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const defaultLatencyUs = 250

// Event is one step of a scenario. Exactly one field is set.
type Event struct {
	Tick   *models.Tick            `yaml:"tick,omitempty"`
	Update *bookmanager.BookUpdate `yaml:"update,omitempty"`
	Order  *models.Order           `yaml:"order,omitempty"`
	Halt   string                  `yaml:"halt,omitempty"`
	Resume string                  `yaml:"resume,omitempty"`
}

func (ev Event) kinds() int {
	n := 0
	for _, set := range []bool{ev.Tick != nil, ev.Update != nil, ev.Order != nil, ev.Halt != "", ev.Resume != ""} {
		if set {
			n++
		}
	}
	return n
}

// Scenario is a replayable sequence of market data and strategy orders
type Scenario struct {
	Name      string  `yaml:"name"`
	LatencyUs float64 `yaml:"latency_us"`
	Events    []Event `yaml:"events"`
}

// Summary counts what happened while replaying a scenario
type Summary struct {
	Ticks         int      `json:"ticks"`
	Updates       int      `json:"updates"`
	UpdatesFailed int      `json:"updates_failed"`
	Orders        int      `json:"orders"`
	Filled        int      `json:"filled"`
	Unfilled      int      `json:"unfilled"`
	Rejected      int      `json:"rejected"`
	Errors        int      `json:"errors"`
	Rejections    []string `json:"rejections,omitempty"`
}

func loadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}

	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	for i, ev := range sc.Events {
		if ev.kinds() != 1 {
			return Scenario{}, fmt.Errorf("scenario %s: event %d must set exactly one of tick, update, order, halt, resume", path, i)
		}
	}
	if sc.LatencyUs <= 0 {
		sc.LatencyUs = defaultLatencyUs
	}
	return sc, nil
}

// runner replays a scenario against an engine. Consecutive book updates are
// applied as one parallel batch.
type runner struct {
	engine  *engine.Engine
	exec    models.Executor
	logger  *zap.Logger
	pending []bookmanager.BookUpdate
	last    time.Time
	summary Summary
}

func runScenario(ctx context.Context, e *engine.Engine, exec models.Executor, sc Scenario, logger *zap.Logger) (Summary, error) {
	r := &runner{engine: e, exec: exec, logger: logger.Named("scenario")}

	for i, ev := range sc.Events {
		if err := ctx.Err(); err != nil {
			return r.summary, err
		}
		if ev.Update == nil {
			if err := r.flush(ctx); err != nil {
				return r.summary, err
			}
		}

		switch {
		case ev.Tick != nil:
			r.clock(ev.Tick.Timestamp)
			if err := e.OnTick(ctx, *ev.Tick); err != nil {
				return r.summary, fmt.Errorf("event %d: %w", i, err)
			}
			r.summary.Ticks++
		case ev.Update != nil:
			r.clock(ev.Update.Timestamp)
			r.pending = append(r.pending, *ev.Update)
		case ev.Order != nil:
			r.route(ctx, *ev.Order)
		case ev.Halt != "":
			e.Risk().Halt(ev.Halt)
		case ev.Resume != "":
			e.Risk().Resume(ev.Resume)
		}
	}

	return r.summary, r.flush(ctx)
}

func (r *runner) clock(ts time.Time) {
	if ts.After(r.last) {
		r.last = ts
	}
}

func (r *runner) flush(ctx context.Context) error {
	if len(r.pending) == 0 {
		return nil
	}
	res, err := r.engine.Books().ProcessBatch(ctx, r.pending)
	r.pending = r.pending[:0]
	r.summary.Updates += res.Applied
	r.summary.UpdatesFailed += res.Failed
	return err
}

func (r *runner) route(ctx context.Context, o models.Order) {
	if o.OrderID == "" {
		o.OrderID = uuid.NewString()
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = r.last
	}
	r.clock(o.Timestamp)
	r.summary.Orders++

	fill, err := r.engine.Route(ctx, o, r.exec)
	switch {
	case errors.Is(err, engine.ErrOrderRejected):
		r.summary.Rejected++
		r.summary.Rejections = append(r.summary.Rejections, fmt.Sprintf("%s: %v", o.OrderID, err))
	case err != nil:
		r.summary.Errors++
		r.logger.Warn("Order failed", zap.String("order_id", o.OrderID), zap.Error(err))
	case fill == nil:
		r.summary.Unfilled++
	default:
		r.summary.Filled++
	}
}
