// Package dumpapi implements the angle/dump_angle subscriber endpoint:
// a websocket that, for one sensor name, sends a header then a stream of
// batches at roughly the collector's own drain rate, per spec.md §6.
// The wire shape and connection-handling style (gorilla/websocket,
// upgrader with a permissive CheckOrigin for local tooling, one
// goroutine per connection driven by a WriteJSON loop) follows the
// calibration websocket handler in the broader example pack.
package dumpapi

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/stratux-angle/anglesensor/anglelog"
	"github.com/stratux-angle/anglesensor/collector"
)

var logger = anglelog.New("angle")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Header is the first message sent on every new connection.
type Header struct {
	Time  float64 `json:"time"`
	Angle int64   `json:"angle"`
}

// wireBatch is the streamed per-drain message, matching spec.md §6's
// `{data: [[print_time, angle], ...], errors, position_offset}` shape.
type wireBatch struct {
	Data           [][2]float64 `json:"data"`
	Errors         int          `json:"errors"`
	PositionOffset *int64       `json:"position_offset,omitempty"`
}

// Sensors maps a sensor name to the collector that feeds its data, for
// use by the HTTP handler below.
type Sensors map[string]*collector.Collector

// Handler serves the angle/dump_angle endpoint for a set of named
// sensors. Register with http.Handle("/angle/dump_angle", handler).
type Handler struct {
	Sensors Sensors
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("sensor")
	col, ok := h.Sensors[name]
	if !ok {
		http.Error(w, "unknown sensor", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Printf("dump_angle: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	ch := make(chan collector.Batch, 8)
	unsubscribe := col.Subscribe(ch)
	defer unsubscribe()

	if err := conn.WriteJSON(Header{}); err != nil {
		logger.Printf("dump_angle: header write error: %v", err)
		return
	}

	for batch := range ch {
		wb := wireBatch{Errors: batch.Errors, PositionOffset: batch.PositionOffset}
		wb.Data = make([][2]float64, len(batch.Data))
		for i, s := range batch.Data {
			wb.Data[i] = [2]float64{s.PrintTime, float64(s.Angle)}
		}
		if err := conn.WriteJSON(wb); err != nil {
			logger.Printf("dump_angle: write error, closing: %v", err)
			return
		}
	}
}
