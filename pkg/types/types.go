package types

import "time"

// Capture is a photo written by the capture service
type Capture struct {
	Path    string
	Time    time.Time
	Preview bool
}

// WeightSample is the averaged raw load-cell value of one sampling round.
// Raw is uncalibrated: no tare is subtracted and no unit conversion applied.
type WeightSample struct {
	Raw   float64
	Reads int
	Time  time.Time
}

// DataPoint is a single measurement written to a telemetry sink
type DataPoint struct {
	Measurement string
	Field       string
	Value       int64
	// Time is informational for sinks that need a timestamp; the InfluxDB sink leaves
	// timestamping to the server.
	Time time.Time
}
