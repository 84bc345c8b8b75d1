// Package spihw adapts a real SPI bus to mcuif.CommandTransport, using
// embd the way the teacher's icm20948 driver uses embd.I2CBus: a thin
// bus handle threaded through every call, with errors wrapped rather
// than swallowed. This package is not exercised by the angled host's
// fake-collaborator test suite; it exists to show how a concrete SPI
// transport would stand in for the MCU command/RPC plumbing that
// spec.md §1 scopes out of this module.
package spihw

import (
	"context"
	"fmt"
	"time"

	"github.com/kidoman/embd"
	_ "github.com/kidoman/embd/host/all" // initializes embd's host registry
	_ "github.com/kidoman/embd/host/rpi"
	"github.com/stratux-angle/anglesensor/anglelog"
)

var logger = anglelog.New("angle")

// Transport issues angle-sensor SPI transfers over a real embd.SPIBus.
// It stands in for the MCU firmware's SPI queue/RPC layer: one physical
// bus, opened on channel 0, with no asynchronous RawMessage stream of its
// own (QuerySPIAngle returns an error instead of scheduling sampling).
type Transport struct {
	Bus   embd.SPIBus
	Speed uint32 // SPI clock, Hz

	subs map[uint8][]func(embd.SPIBus, []byte)
}

// NewTransport opens an embd SPI bus at the given speed, channel 0, mode
// 0, 8 bits per word — the tle5012b/as5047d/a1333 family's common SPI
// mode.
func NewTransport(speedHz uint32) *Transport {
	bus := embd.NewSPIBus(embd.SPIMode0, 0, int(speedHz), 8, 0)
	return &Transport{Bus: bus, Speed: speedHz}
}

// ConfigSPIAngle is a no-op here: a real MCU firmware image statically
// binds an oid to a spi bus/chip-select pair at compile time; this
// adapter only logs the binding, and every transfer goes to the one bus
// it was opened on.
func (t *Transport) ConfigSPIAngle(ctx context.Context, oid, spiOID uint8, sensorType string) error {
	logger.Printf("spihw: oid %d bound to chip-select %d (%s)", oid, spiOID, sensorType)
	return nil
}

// QuerySPIAngle is unsupported: this synchronous adapter has no
// background sampling clock of its own, and this module contains no
// periodic SPIAngleTransfer loop that backs mcuif.RawMessageSource.
func (t *Transport) QuerySPIAngle(ctx context.Context, oid uint8, clock uint64, restTicks uint32, timeShift uint8) error {
	return fmt.Errorf("spihw: periodic sampling is not implemented by this adapter")
}

// SPIAngleTransfer performs one half-duplex SPI transfer and returns the
// response bytes alongside a monotonic clock reading taken immediately
// after the transfer completes, standing in for the MCU's own free-running
// clock register.
func (t *Transport) SPIAngleTransfer(ctx context.Context, oid uint8, data []byte) ([]byte, uint64, error) {
	buf := make([]byte, len(data))
	copy(buf, data)
	if err := t.Bus.TransferAndReceiveData(buf); err != nil {
		return nil, 0, fmt.Errorf("spihw: transfer error on oid %d: %w", oid, err)
	}
	return buf, uint64(time.Now().UnixNano()), nil
}

// Close releases the underlying SPI bus.
func (t *Transport) Close() error {
	return t.Bus.Close()
}
