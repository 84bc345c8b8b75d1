// Package collector implements Collector: the bulk-capture lifecycle,
// the mutex-protected raw-message queue, the periodic drain, and output
// fan-out to subscribers, per spec.md §4.4.
package collector

import (
	"context"
	"sync"
	"time"

	"github.com/stratux-angle/anglesensor/anglelog"
	"github.com/stratux-angle/anglesensor/caltable"
	"github.com/stratux-angle/anglesensor/decode"
	"github.com/stratux-angle/anglesensor/mcuif"
	"github.com/stratux-angle/anglesensor/phase"
)

var logger = anglelog.New("angle")

// defaultSamplePeriod is spec.md §4.4's default sample_period (400us).
const defaultSamplePeriod = 400 * time.Microsecond

// defaultFrameQueryPeriod is how often a chip that owns an independent
// clock (tle5012b) is re-queried to keep its ClockMap fit live.
const defaultFrameQueryPeriod = 100 * time.Millisecond

// FrameQuerier issues a chip's own periodic frame-counter/clock query.
// Only chip families with an independent onboard clock (tle5012b, via
// sensor.Driver.QueryFrame) implement this; a1333/as5047d carry their
// timing in-band with every sample and need no separate query.
type FrameQuerier interface {
	QueryFrame(ctx context.Context) (response []byte, mcuClock uint64, err error)
}

// Batch is what subscribers receive on every drain, matching spec.md
// §6's angle/dump_angle wire shape.
type Batch struct {
	Data           []decode.Sample
	Errors         int
	PositionOffset *int64
}

// Collector owns the raw-message queue fed by the MCU I/O callback, and
// drains it on a fixed period, pushing decoded+calibrated+aligned
// batches to subscribers.
type Collector struct {
	Transport    mcuif.CommandTransport
	Source       mcuif.RawMessageSource
	OID          uint8
	SpiOID       uint8
	SamplePeriod time.Duration

	Decoder      *decode.Decoder
	Table        *caltable.Table
	Phase        *phase.Aligner
	Planner      mcuif.MotionPlanner
	StepperPhase mcuif.StepperPhase

	// FrameQuerier and FrameCounter, when set, drive Decoder.ChipClock's
	// periodic update for chips (tle5012b) that own an independent
	// clock; see sensor.Driver.QueryFrame and sensor.FrameCounter.
	FrameQuerier     FrameQuerier
	FrameCounter     func(response []byte) uint16
	FrameQueryPeriod time.Duration

	mu     sync.Mutex
	raw    []decode.Message
	active bool

	subMu sync.Mutex
	subs  []chan Batch

	unsubscribe func()
	cancelDrain context.CancelFunc
	cancelFrame context.CancelFunc
}

// Subscribe registers a channel to receive every drained Batch. The
// returned function removes it.
func (c *Collector) Subscribe(ch chan Batch) func() {
	c.subMu.Lock()
	c.subs = append(c.subs, ch)
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		for i, s := range c.subs {
			if s == ch {
				c.subs = append(c.subs[:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

// Start transitions Idle -> Active: it sets the queue up, starts the MCU
// query at the configured period, and begins the periodic drain.
func (c *Collector) Start(ctx context.Context, startClock uint64, mcuFreq float64) error {
	c.mu.Lock()
	c.raw = nil
	c.active = true
	c.mu.Unlock()

	period := c.SamplePeriod
	if period <= 0 {
		period = defaultSamplePeriod
	}
	sampleTicks := uint32(period.Seconds() * mcuFreq)

	c.Decoder.State.StartClock = startClock
	c.Decoder.State.SampleTicks = sampleTicks

	if err := c.Transport.QuerySPIAngle(ctx, c.OID, startClock, sampleTicks, c.Decoder.State.TimeShift); err != nil {
		return err
	}

	c.unsubscribe = c.Source.Subscribe(c.OID, c.onRawMessage)

	drainCtx, cancel := context.WithCancel(ctx)
	c.cancelDrain = cancel
	go c.drainLoop(drainCtx, period*250) // ~100ms at a 400us sample period

	if c.FrameQuerier != nil && c.FrameCounter != nil && c.Decoder.ChipClock != nil {
		framePeriod := c.FrameQueryPeriod
		if framePeriod <= 0 {
			framePeriod = defaultFrameQueryPeriod
		}
		frameCtx, frameCancel := context.WithCancel(ctx)
		c.cancelFrame = frameCancel
		go c.frameLoop(frameCtx, framePeriod)
	}

	logger.Printf("oid %d: started, sample_ticks=%d", c.OID, sampleTicks)
	return nil
}

// Stop transitions Active -> Idle: it schedules a stop command, stops
// the drain loop, and discards any remaining raw messages, per spec.md
// §4.4 and §5's cancellation rule (no partial batch is emitted across
// the stop).
func (c *Collector) Stop(ctx context.Context, stopClock uint64) error {
	err := c.Transport.QuerySPIAngle(ctx, c.OID, stopClock, 0, 0)

	if c.cancelDrain != nil {
		c.cancelDrain()
	}
	if c.cancelFrame != nil {
		c.cancelFrame()
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
	}

	c.mu.Lock()
	c.raw = nil
	c.active = false
	c.mu.Unlock()

	logger.Printf("oid %d: stopped", c.OID)
	return err
}

func (c *Collector) onRawMessage(m mcuif.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return
	}
	c.raw = append(c.raw, decode.Message{Sequence: m.Sequence, Data: m.Data})
}

// drainLoop runs the ~100ms timer that swaps the raw queue out (an O(1)
// pointer swap under the mutex) and hands decoded batches to
// subscribers, per spec.md §4.4 and §5.
func (c *Collector) drainLoop(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.drainOnce()
		}
	}
}

// frameLoop re-queries a chip's own clock (tle5012b) on a fixed period
// and feeds the result into Decoder.ChipClock.Update, keeping the
// ModeB sclock computation in decode.Decode driven by a live chip-clock
// fit instead of degrading to mclock when chip_freq stays at its
// init-time guess.
func (c *Collector) frameLoop(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resp, mclk, err := c.FrameQuerier.QueryFrame(ctx)
			if err != nil {
				logger.Printf("oid %d: frame query error: %v", c.OID, err)
				continue
			}
			c.Decoder.ChipClock.Update(mclk, c.FrameCounter(resp))
		}
	}
}

func (c *Collector) drainOnce() {
	c.mu.Lock()
	msgs := c.raw
	c.raw = nil
	c.mu.Unlock()

	if len(msgs) == 0 {
		return
	}

	samples, errs := c.Decoder.Decode(msgs)
	if c.Table != nil {
		c.Table.ApplyBatch(samples)
	}

	var posOffset *int64
	if c.Phase != nil {
		if off, ok := c.Phase.Offset(); ok {
			posOffset = &off
		} else if len(samples) > 0 && c.Planner != nil && c.StepperPhase != nil {
			if mcuPhaseOffset, known := c.StepperPhase.McuPhaseOffset(); known {
				s := samples[0]
				mcuPos := c.Planner.GetPastMcuPosition(s.PrintTime)
				var calPhaseOffset float64
				if c.Table != nil {
					calPhaseOffset = c.Table.PhaseOffset
				}
				c.Phase.Seed(mcuPos, s.Angle, calPhaseOffset, mcuPhaseOffset, c.StepperPhase.Phases())
				if off, ok := c.Phase.Offset(); ok {
					posOffset = &off
				}
			}
		}
	}

	batch := Batch{Data: samples, Errors: errs, PositionOffset: posOffset}

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- batch:
		default:
		}
	}
}

// Tap is the internal subscriber CalibrationRunner reads during the
// scripted motion (spec.md §4.7.5): it accumulates every sample seen
// since the last Drain, independent of the batching any other
// subscriber (e.g. dumpapi) sees.
type Tap struct {
	ch          chan Batch
	unsubscribe func()

	mu      sync.Mutex
	samples []decode.Sample
	done    chan struct{}
}

// NewTap subscribes a Tap to this collector. Call Close when done.
func (c *Collector) NewTap() *Tap {
	t := &Tap{ch: make(chan Batch, 64), done: make(chan struct{})}
	t.unsubscribe = c.Subscribe(t.ch)
	go t.run()
	return t
}

func (t *Tap) run() {
	for {
		select {
		case b, ok := <-t.ch:
			if !ok {
				return
			}
			t.mu.Lock()
			t.samples = append(t.samples, b.Data...)
			t.mu.Unlock()
		case <-t.done:
			return
		}
	}
}

// Drain returns every sample observed since the tap was created or last
// drained, implementing calibrate.SampleTap.
func (t *Tap) Drain() []decode.Sample {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.samples
	t.samples = nil
	return out
}

// Close unsubscribes the tap from its collector.
func (t *Tap) Close() {
	close(t.done)
	t.unsubscribe()
}
