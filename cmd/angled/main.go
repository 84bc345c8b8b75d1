// Command angled wires the angle-sensor packages together into a
// runnable host: one Collector per configured sensor, fed by an MCU
// command transport, with the angle/dump_angle endpoint served over
// HTTP. The real MCU command queue, SPI transport, motion planner, and
// stepper phase service are external collaborators (spec.md §1); this
// binary sets no mcuif transport or message source on the collectors it
// builds and does not start them.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/stratux-angle/anglesensor/anglelog"
	"github.com/stratux-angle/anglesensor/caltable"
	"github.com/stratux-angle/anglesensor/clock"
	"github.com/stratux-angle/anglesensor/collector"
	"github.com/stratux-angle/anglesensor/config"
	"github.com/stratux-angle/anglesensor/decode"
	"github.com/stratux-angle/anglesensor/dumpapi"
	"github.com/stratux-angle/anglesensor/phase"
	"github.com/stratux-angle/anglesensor/sensor"
)

var logger = anglelog.New("angle")

// mcuTickFrequency is the placeholder MCU tick rate this stub host
// assumes in the absence of a real MCU command transport (a real
// deployment learns it from the MCU's own identify/config response).
const mcuTickFrequency = 1e7

func main() {
	configPath := flag.String("config", "/etc/angled.cfg", "printer config file")
	listen := flag.String("listen", ":7125", "angle/dump_angle listen address")
	flag.Parse()

	doc, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("angled: %v", err)
	}

	toPrintTime := func(mcuClock uint64) float64 { return float64(mcuClock) / mcuTickFrequency }

	sensors := dumpapi.Sensors{}
	for name, section := range doc.Angle {
		kind, err := sensor.KindFromString(section.SensorType)
		if err != nil {
			log.Fatalf("angled: section %s: %v", name, err)
		}

		decoder := &decode.Decoder{
			Mode:        kind.TimeMode(),
			ToPrintTime: toPrintTime,
		}

		col := &collector.Collector{
			OID:          1,
			SamplePeriod: 0,
			Decoder:      decoder,
			Table:        caltable.Identity(),
			Phase:        &phase.Aligner{},
		}

		if kind == sensor.TLE5012B {
			decoder.ChipClock = clock.NewMap(toPrintTime)
			driver := &sensor.Driver{Kind: kind, OID: col.OID, ChipClock: decoder.ChipClock}
			col.FrameQuerier = driver
			col.FrameCounter = sensor.FrameCounter
		}

		sensors[name] = col
		logger.Printf("configured sensor %q (%s)", name, kind)
	}

	http.Handle("/angle/dump_angle", &dumpapi.Handler{Sensors: sensors})

	logger.Printf("listening on %s", *listen)
	if err := http.ListenAndServe(*listen, nil); err != nil {
		log.Fatalf("angled: %v", err)
	}
}

func loadConfig(path string) (*config.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return config.Parse(data)
}
