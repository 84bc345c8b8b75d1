package dumpapi

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stratux-angle/anglesensor/caltable"
	"github.com/stratux-angle/anglesensor/collector"
	"github.com/stratux-angle/anglesensor/decode"
	"github.com/stratux-angle/anglesensor/mcuif"
	"github.com/stratux-angle/anglesensor/phase"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct{}

func (f *fakeTransport) ConfigSPIAngle(ctx context.Context, oid, spiOID uint8, sensorType string) error {
	return nil
}
func (f *fakeTransport) QuerySPIAngle(ctx context.Context, oid uint8, clock uint64, restTicks uint32, timeShift uint8) error {
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

func newTestCollector(t *testing.T) (*collector.Collector, *fakeSource) {
	t.Helper()
	source := &fakeSource{}
	col := &collector.Collector{
		Transport: &fakeTransport{},
		Source:    source,
		OID:       1,
		Decoder: &decode.Decoder{
			Mode:        decode.ModeA,
			ToPrintTime: func(clk uint64) float64 { return float64(clk) / 1e7 },
		},
		Table: caltable.Identity(),
		Phase: &phase.Aligner{AngleToMcuPos: 1},
	}
	require.NoError(t, col.Start(context.Background(), 0, 1e7))
	return col, source
}

func TestHandlerStreamsHeaderThenBatch(t *testing.T) {
	col, source := newTestCollector(t)
	h := &Handler{Sensors: Sensors{"extruder_stepper": col}}

	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?sensor=extruder_stepper"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var hdr Header
	require.NoError(t, conn.ReadJSON(&hdr))

	// Inject the raw message only after the handler has subscribed (it
	// has, by the time the header round-trip above completes), so the
	// collector's own ~100ms drain loop fans it out to this connection
	// rather than discarding it to zero subscribers.
	source.fn(mcuif.RawMessage{Sequence: 0, Data: []byte{0x00, 0x34, 0x12}})

	var wb wireBatch
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&wb))
	require.Len(t, wb.Data, 1)
	require.EqualValues(t, 0x1234, wb.Data[0][1])
}

func TestHandlerRejectsUnknownSensor(t *testing.T) {
	h := &Handler{Sensors: Sensors{}}
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?sensor=nope"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, 404, resp.StatusCode)
}
