package training

import (
	"fmt"
	"math"

	"github.com/Jean-Baptiste-Camps/boudams/internal/optim"
	"github.com/Jean-Baptiste-Camps/boudams/internal/score"
)

// relThreshold is the relative improvement a step must beat the best
// value by to reset the bad-epoch counter.
const relThreshold = 1e-4

// PlateauScheduler reduces the optimizer's learning rate by a fixed
// factor once the monitored value has failed to improve for more than
// patience consecutive steps. The rate never drops below minLR.
type PlateauScheduler struct {
	opt      optim.Optimizer
	maximize bool
	factor   float64
	patience int
	minLR    float64

	best      float64
	badEpochs int
}

// NewPlateauScheduler wraps the optimizer. The initial best is the
// worst possible value for the chosen direction, so the first step
// always counts as an improvement.
func NewPlateauScheduler(opt optim.Optimizer, maximize bool, factor float64, patience int, minLR float64) *PlateauScheduler {
	best := math.Inf(1)
	if maximize {
		best = math.Inf(-1)
	}
	return &PlateauScheduler{
		opt:      opt,
		maximize: maximize,
		factor:   factor,
		patience: patience,
		minLR:    minLR,
		best:     best,
	}
}

// Step feeds one epoch's monitored value to the policy.
func (s *PlateauScheduler) Step(value float64) {
	if s.improved(value) {
		s.best = value
		s.badEpochs = 0
		return
	}
	s.badEpochs++
	if s.badEpochs > s.patience {
		lr := s.opt.LR() * s.factor
		if lr < s.minLR {
			lr = s.minLR
		}
		s.opt.SetLR(lr)
		s.badEpochs = 0
	}
}

func (s *PlateauScheduler) improved(value float64) bool {
	if s.maximize {
		return value > s.best*(1+relThreshold)
	}
	return value < s.best*(1-relThreshold)
}

// BadEpochs returns the consecutive non-improving step count.
func (s *PlateauScheduler) BadEpochs() int { return s.badEpochs }

// Patience returns the current patience.
func (s *PlateauScheduler) Patience() int { return s.patience }

// SetPatience changes the patience. The trainer raises it once the
// grace period has elapsed.
func (s *PlateauScheduler) SetPatience(patience int) { s.patience = patience }

// LR returns the optimizer's current learning rate.
func (s *PlateauScheduler) LR() float64 { return s.opt.LR() }

// LRScheduler binds a PlateauScheduler to a monitored Score metric.
type LRScheduler struct {
	sched  *PlateauScheduler
	metric Metric
}

// NewLRScheduler builds the plateau policy for the given metric's
// direction.
func NewLRScheduler(opt optim.Optimizer, metric Metric, factor float64, patience int, minLR float64) *LRScheduler {
	return &LRScheduler{
		sched:  NewPlateauScheduler(opt, metric.Maximize(), factor, patience, minLR),
		metric: metric,
	}
}

// Step extracts the monitored field and advances the policy.
func (l *LRScheduler) Step(s score.Score) {
	l.sched.Step(l.metric.Extract(s))
}

// Steps returns the consecutive bad-epoch count.
func (l *LRScheduler) Steps() int { return l.sched.BadEpochs() }

// Patience returns the scheduler's current patience.
func (l *LRScheduler) Patience() int { return l.sched.Patience() }

// SetPatience changes the scheduler's patience.
func (l *LRScheduler) SetPatience(patience int) { l.sched.SetPatience(patience) }

// LR returns the current learning rate.
func (l *LRScheduler) LR() float64 { return l.sched.LR() }

func (l *LRScheduler) String() string {
	return fmt.Sprintf("<LrScheduler lr=%q lr_steps=\"%d\" lr_patience=\"%d\"/>",
		fmt.Sprintf("%g", l.LR()), l.Steps(), l.Patience())
}
