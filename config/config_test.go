package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalibrateFormatRoundTrip(t *testing.T) {
	values := make([]float64, 20)
	for i := range values {
		values[i] = float64(i) * 100.5
	}

	formatted := FormatCalibrate(values)
	parsed, err := ParseCalibrate(formatted)
	require.NoError(t, err)
	require.Len(t, parsed, len(values))
	for i := range values {
		assert.InDelta(t, values[i], parsed[i], 1e-9)
	}
}

func TestCalibrateFormatWrapsEvery8Values(t *testing.T) {
	values := make([]float64, 9)
	formatted := FormatCalibrate(values)
	lines := 0
	for _, c := range formatted {
		if c == '\n' {
			lines++
		}
	}
	assert.Equal(t, 1, lines)
}

func TestDocumentReadWriteCalibrate(t *testing.T) {
	doc := &Document{}
	require.NoError(t, doc.WriteCalibrate("extruder_stepper", []float64{1.1, 2.2, 3.3}))

	got, err := doc.ReadCalibrate("extruder_stepper")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1.1, 2.2, 3.3}, got, 1e-9)
}

func TestDocumentMarshalRoundTrip(t *testing.T) {
	doc := &Document{Angle: map[string]Section{
		"extruder_stepper": {SensorType: "tle5012b", SamplePeriod: 0.0004, Stepper: "extruder_stepper"},
	}}
	require.NoError(t, doc.WriteCalibrate("extruder_stepper", []float64{10, 20}))

	data, err := doc.Marshal()
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "tle5012b", parsed.Angle["extruder_stepper"].SensorType)

	vals, err := parsed.ReadCalibrate("extruder_stepper")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{10, 20}, vals, 1e-9)
}
