// Package anglelog is a thin logging wrapper used by calibrate, collector,
// sensor, dumpapi, cmd/angled and cmd/angled/spihw. The teacher drives its own diagnostics through the
// standard log package with a component-name prefix on every line
// (e.g. "ICM20948: Gyro and Accel powered on early"); this package
// keeps that exact idiom rather than reaching for a third-party logger,
// since goflying itself never imports one for this concern (see
// DESIGN.md).
package anglelog

import "log"

// Logger prefixes every message with a component name, matching the
// teacher's "ICM20948: ..." convention.
type Logger struct {
	Component string
}

// New returns a Logger for the given component name.
func New(component string) *Logger {
	return &Logger{Component: component}
}

func (l *Logger) Printf(format string, args ...interface{}) {
	log.Printf(l.Component+": "+format, args...)
}

func (l *Logger) Println(args ...interface{}) {
	log.Println(append([]interface{}{l.Component + ":"}, args...)...)
}
