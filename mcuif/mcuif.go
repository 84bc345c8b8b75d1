// Package mcuif declares the external-collaborator contracts named in
// spec.md §6: the MCU command transport, the stepper driver's phase
// service, the motion planner, and persisted configuration. None of
// these are implemented here — spec.md §1 explicitly scopes the MCU
// command-queue/RPC plumbing, SPI transport, motion planner/reactor, and
// stepper-driver phase-offset service out of this module's concern; this
// package exists only so the core packages can depend on narrow Go
// interfaces instead of concrete transports.
package mcuif

import "context"

// RawMessage is spec.md's asynchronous spi_angle_data payload.
type RawMessage struct {
	Sequence uint16
	Data     []byte
}

// CommandTransport issues the ASCII MCU commands listed in spec.md §6.
type CommandTransport interface {
	ConfigSPIAngle(ctx context.Context, oid, spiOID uint8, sensorType string) error
	QuerySPIAngle(ctx context.Context, oid uint8, clock uint64, restTicks uint32, timeShift uint8) error
	SPIAngleTransfer(ctx context.Context, oid uint8, data []byte) (response []byte, clock uint64, err error)
}

// RawMessageSource delivers the asynchronous spi_angle_data stream for
// one oid, in MCU arrival order.
type RawMessageSource interface {
	Subscribe(oid uint8, fn func(RawMessage)) (unsubscribe func())
}

// StepperPhase is the stepper driver's phase-offset service.
type StepperPhase interface {
	Phases() int64
	McuPhaseOffset() (offset int64, known bool)
}

// Mover drives the scripted calibration motion.
type Mover interface {
	MoveBy(ctx context.Context, distance, speed float64) (doneAt float64, err error)
	WaitMovesDone(ctx context.Context) error
}

// MotionPlanner supplies the commanded mcu position at a past print time.
type MotionPlanner interface {
	GetPastMcuPosition(printTime float64) int64
}

// ConfigStore reads and writes the persisted `calibrate = ...` list for a
// named config section.
type ConfigStore interface {
	ReadCalibrate(section string) ([]float64, error)
	WriteCalibrate(section string, values []float64) error
}
