// Package config loads and persists the angle sensor's printer-config
// section, per spec.md §6: sensor_type, sample_period, stepper, and the
// calibrate value list. Loading and writing the broader config document
// is an external collaborator's job in the real host (spec.md §1 scopes
// "the config loader" out); this package only owns the angle section's
// own shape and the literal `calibrate = ...` value-list format.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// valuesPerLine is spec.md §6's "newline every 8 values" rule for the
// persisted calibrate list.
const valuesPerLine = 8

// Section is one `[angle <name>]` section's parsed fields.
type Section struct {
	SensorType   string  `yaml:"sensor_type"`
	SamplePeriod float64 `yaml:"sample_period"`
	Stepper      string  `yaml:"stepper,omitempty"`
	Calibrate    string  `yaml:"calibrate,omitempty"`
}

// Document is the subset of the printer config this module cares about:
// a map from section name (e.g. "my_extruder_stepper") to its angle
// section.
type Document struct {
	Angle map[string]Section `yaml:"angle"`
}

// Parse reads a Document from its serialized form.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("angle: config parse error: %w", err)
	}
	return &doc, nil
}

// Marshal serializes a Document back to its stored form.
func (d *Document) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}

// FormatCalibrate renders a value list as spec.md §6's persisted format:
// comma-separated floats to one decimal place, with a newline every 8
// values.
func FormatCalibrate(values []float64) string {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteString(",")
			if i%valuesPerLine == 0 {
				b.WriteString("\n")
			} else {
				b.WriteString(" ")
			}
		}
		b.WriteString(strconv.FormatFloat(v, 'f', 1, 64))
	}
	return b.String()
}

// ParseCalibrate parses a persisted calibrate value list back into
// floats, preserving the written order (spec.md §6: "reload order must
// equal the order written").
func ParseCalibrate(s string) ([]float64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("angle: invalid calibrate value %q: %w", f, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ReadCalibrate implements mcuif.ConfigStore.
func (d *Document) ReadCalibrate(section string) ([]float64, error) {
	s, ok := d.Angle[section]
	if !ok {
		return nil, fmt.Errorf("angle: no [angle %s] section", section)
	}
	return ParseCalibrate(s.Calibrate)
}

// WriteCalibrate implements mcuif.ConfigStore.
func (d *Document) WriteCalibrate(section string, values []float64) error {
	if d.Angle == nil {
		d.Angle = map[string]Section{}
	}
	s := d.Angle[section]
	s.Calibrate = FormatCalibrate(values)
	d.Angle[section] = s
	return nil
}
