package collector

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stratux-angle/anglesensor/caltable"
	"github.com/stratux-angle/anglesensor/clock"
	"github.com/stratux-angle/anglesensor/decode"
	"github.com/stratux-angle/anglesensor/mcuif"
	"github.com/stratux-angle/anglesensor/phase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	queried bool
	stopped bool
}

func (f *fakeTransport) ConfigSPIAngle(ctx context.Context, oid, spiOID uint8, sensorType string) error {
	return nil
}
func (f *fakeTransport) QuerySPIAngle(ctx context.Context, oid uint8, clock uint64, restTicks uint32, timeShift uint8) error {
	if restTicks == 0 {
		f.stopped = true
	} else {
		f.queried = true
	}
	return nil
}
func (f *fakeTransport) SPIAngleTransfer(ctx context.Context, oid uint8, data []byte) ([]byte, uint64, error) {
	return nil, 0, nil
}

type fakeSource struct {
	fn func(mcuif.RawMessage)
}

func (f *fakeSource) Subscribe(oid uint8, fn func(mcuif.RawMessage)) func() {
	f.fn = fn
	return func() { f.fn = nil }
}

func TestCollectorDecodesOnDrain(t *testing.T) {
	transport := &fakeTransport{}
	source := &fakeSource{}

	c := &Collector{
		Transport:    transport,
		Source:       source,
		OID:          1,
		SamplePeriod: 400 * time.Microsecond,
		Decoder: &decode.Decoder{
			Mode:        decode.ModeA,
			ToPrintTime: func(clk uint64) float64 { return float64(clk) / 1e7 },
		},
		Table: caltable.Identity(),
		Phase: &phase.Aligner{AngleToMcuPos: 1},
	}

	require.NoError(t, c.Start(context.Background(), 0, 1e7))
	assert.True(t, transport.queried)

	ch := make(chan Batch, 1)
	c.Subscribe(ch)

	source.fn(mcuif.RawMessage{Sequence: 0, Data: []byte{0x00, 0x34, 0x12}})
	c.drainOnce()

	select {
	case b := <-ch:
		assert.Equal(t, 0, b.Errors)
		require.Len(t, b.Data, 1)
		assert.EqualValues(t, 0x1234, b.Data[0].Angle)
	case <-time.After(time.Second):
		t.Fatal("no batch received")
	}

	require.NoError(t, c.Stop(context.Background(), 0))
	assert.True(t, transport.stopped)
}

type fakeFrameQuerier struct {
	calls int32
}

func (f *fakeFrameQuerier) QueryFrame(ctx context.Context) ([]byte, uint64, error) {
	n := atomic.AddInt32(&f.calls, 1)
	resp := []byte{0, 0, 0x40, 0x00, 0, 0, 0, 0}
	return resp, uint64(n) * 1000, nil
}

func TestCollectorDrivesChipClockOnFrameQuery(t *testing.T) {
	transport := &fakeTransport{}
	source := &fakeSource{}
	chipClock := clock.NewMap(func(clk uint64) float64 { return float64(clk) / 1e7 })
	querier := &fakeFrameQuerier{}

	c := &Collector{
		Transport: transport,
		Source:    source,
		OID:       1,
		Decoder: &decode.Decoder{
			Mode:        decode.ModeB,
			ToPrintTime: func(clk uint64) float64 { return float64(clk) / 1e7 },
			ChipClock:   chipClock,
		},
		Table:            caltable.Identity(),
		Phase:            &phase.Aligner{AngleToMcuPos: 1},
		FrameQuerier:     querier,
		FrameCounter:     func(resp []byte) uint16 { return uint16(resp[2])<<8 | uint16(resp[3]) },
		FrameQueryPeriod: 10 * time.Millisecond,
	}

	require.NoError(t, c.Start(context.Background(), 0, 1e7))
	defer c.Stop(context.Background(), 0)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&querier.calls) >= 2
	}, time.Second, 5*time.Millisecond)

	assert.NotZero(t, chipClock.PredictChipClock(5000))
}

func TestCollectorDiscardsOnStop(t *testing.T) {
	transport := &fakeTransport{}
	source := &fakeSource{}
	c := &Collector{
		Transport: transport,
		Source:    source,
		OID:       1,
		Decoder:   &decode.Decoder{Mode: decode.ModeA, ToPrintTime: func(clk uint64) float64 { return 0 }},
	}
	require.NoError(t, c.Start(context.Background(), 0, 1e7))
	source.fn(mcuif.RawMessage{Sequence: 0, Data: []byte{0x00, 0, 0}})
	require.NoError(t, c.Stop(context.Background(), 1000))

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.raw)
	assert.False(t, c.active)
}
