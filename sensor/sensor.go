// Package sensor implements SensorDriver: per-chip init, periodic query
// protocol, and CRC verification with bounded retry, per spec.md §4.3.
package sensor

import (
	"context"
	"fmt"

	"github.com/stratux-angle/anglesensor/anglelog"
	"github.com/stratux-angle/anglesensor/clock"
	"github.com/stratux-angle/anglesensor/decode"
	"github.com/stratux-angle/anglesensor/mcuif"
)

var logger = anglelog.New("angle")

// Kind identifies one of the three supported chip families.
type Kind int

const (
	A1333 Kind = iota
	AS5047D
	TLE5012B
)

func (k Kind) String() string {
	switch k {
	case A1333:
		return "a1333"
	case AS5047D:
		return "as5047d"
	case TLE5012B:
		return "tle5012b"
	default:
		return "unknown"
	}
}

// KindFromString maps the config's sensor_type string to a Kind.
func KindFromString(s string) (Kind, error) {
	switch s {
	case "a1333":
		return A1333, nil
	case "as5047d":
		return AS5047D, nil
	case "tle5012b":
		return TLE5012B, nil
	default:
		return 0, fmt.Errorf("angle: unknown sensor_type %q", s)
	}
}

// TimeMode returns the decode.TimeMode this chip family uses to
// interpret a record's tcode byte (spec.md §4.2).
func (k Kind) TimeMode() decode.TimeMode {
	if k == TLE5012B {
		return decode.ModeB
	}
	return decode.ModeA
}

const maxCRCRetries = 5

var tle5012bReadCmd = []byte{0x84, 0x42, 0, 0, 0, 0, 0, 0}

// Driver owns one sensor chip's init and periodic-query behavior.
type Driver struct {
	Kind      Kind
	OID       uint8
	Transport mcuif.CommandTransport
	ChipClock *clock.Map // only used by TLE5012B
}

// Init issues the per-chip init sequence described in spec.md §4.3.
func (d *Driver) Init(ctx context.Context) error {
	switch d.Kind {
	case A1333:
		_, _, err := d.Transport.SPIAngleTransfer(ctx, d.OID, []byte{0x32, 0x00})
		return err
	case AS5047D:
		for _, reg := range [][]byte{diaagcRead, errflRead, nopRead} {
			if _, _, err := d.Transport.SPIAngleTransfer(ctx, d.OID, reg); err != nil {
				return err
			}
		}
		return nil
	case TLE5012B:
		if d.ChipClock == nil {
			return fmt.Errorf("angle: tle5012b driver requires ChipClock")
		}
		if _, _, err := d.Transport.SPIAngleTransfer(ctx, d.OID, statClearCmd); err != nil {
			return err
		}
		resp, mclk, err := d.QueryFrame(ctx)
		if err != nil {
			return err
		}
		// Initial frequency guess of 1 chip-tick per mcu-tick; the first
		// periodic Update refits it from a real pair of anchors.
		d.ChipClock.Seed(mclk, uint64(FrameCounter(resp)), 1.0)
		return nil
	default:
		return fmt.Errorf("angle: unknown sensor kind %d", d.Kind)
	}
}

var (
	diaagcRead   = []byte{0x3f, 0xfc, 0, 0}
	errflRead    = []byte{0x40, 0x01, 0, 0}
	nopRead      = []byte{0x00, 0x00, 0, 0}
	statClearCmd = []byte{0x80, 0x01, 0, 0, 0, 0, 0, 0}
)

// QueryFrame issues the tle5012b's fixed frame-counter/temperature read,
// verifying its CRC with up to 5 retries, per spec.md §4.3. It is not
// applicable to A1333/AS5047D, which carry their timing in-band with
// every sample (spec.md §4.2 Mode A) and need no separate frame query.
func (d *Driver) QueryFrame(ctx context.Context) (response []byte, mcuClock uint64, err error) {
	if d.Kind != TLE5012B {
		return nil, 0, fmt.Errorf("angle: QueryFrame only applies to tle5012b")
	}

	var lastErr error
	for attempt := 0; attempt < maxCRCRetries; attempt++ {
		resp, clk, err := d.Transport.SPIAngleTransfer(ctx, d.OID, tle5012bReadCmd)
		if err != nil {
			lastErr = err
			continue
		}
		if !verifyCRC(tle5012bReadCmd, resp) {
			lastErr = fmt.Errorf("angle: tle5012b CRC mismatch")
			logger.Printf("oid %d: CRC mismatch on attempt %d/%d", d.OID, attempt+1, maxCRCRetries)
			continue
		}
		return resp, clk, nil
	}
	logger.Printf("oid %d: giving up after %d retries: %v", d.OID, maxCRCRetries, lastErr)
	return nil, 0, fmt.Errorf("angle: tle5012b command failed after %d retries: %w", maxCRCRetries, lastErr)
}

// FrameCounter extracts the tle5012b frame-query response's 16-bit
// frame counter (resp[2:4], big-endian) — the same counter ClockMap
// tracks to keep the chip's own clock anchored to the MCU's (spec.md
// §4.1).
func FrameCounter(resp []byte) uint16 {
	return uint16(resp[2])<<8 | uint16(resp[3])
}

// Temperature decodes the tle5012b frame-query response's temperature
// field: (raw+152)/2.776 °C, where raw is resp[5] sign-extended against
// bit 0 of resp[4].
func Temperature(resp []byte) float64 {
	raw := int16(resp[5]) | int16(resp[4]&0x01)<<8
	if raw&0x100 != 0 {
		raw -= 0x200
	}
	return (float64(raw) + 152) / 2.776
}

// crc8Table is the lookup table for polynomial 0x1D, as used by the
// tle5012b's frame CRC (spec.md §4.3).
var crc8Table = buildCRC8Table(0x1d)

func buildCRC8Table(poly byte) [256]byte {
	var table [256]byte
	for i := 0; i < 256; i++ {
		crc := byte(i)
		for b := 0; b < 8; b++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}

func crc8(init byte, data []byte) byte {
	crc := init
	for _, b := range data {
		crc = crc8Table[crc^b]
	}
	return crc
}

// verifyCRC checks a tle5012b response's trailing CRC byte against the
// polynomial 0x1D, init 0xFF, final bitwise-NOT, computed over
// req[0:2] concatenated with resp[2:-1], per spec.md §4.3.
func verifyCRC(req, resp []byte) bool {
	if len(resp) < 1 {
		return false
	}
	payload := make([]byte, 0, 2+len(resp)-3)
	payload = append(payload, req[:2]...)
	payload = append(payload, resp[2:len(resp)-1]...)
	got := ^crc8(0xff, payload)
	return got == resp[len(resp)-1]
}
