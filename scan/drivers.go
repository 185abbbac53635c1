package scan

import "context"

// MotionDriver points the sensor. Every call blocks until the command has been
// accepted by the hardware and returns a HardwareFault error on failure.
type MotionDriver interface {
	RotateHorizontal(ctx context.Context, degrees float64) error
	RotateVertical(ctx context.Context, degrees float64) error
	Reset(ctx context.Context) error
}

// Settler is implemented by motion drivers that can report when the rig has
// physically stopped moving. Drivers without it are given a fixed settle delay.
type Settler interface {
	Settled(ctx context.Context) error
}

// SensorDriver takes a single range reading. Readings outside the configured
// valid range are reported as HardwareFault errors.
type SensorDriver interface {
	Distance(ctx context.Context) (float64, error)
}

// Preprocessor turns raw samples into clean Cartesian points
type Preprocessor interface {
	ConvertToCartesian(samples []RawSample) []Point
	RemoveOutliers(points []Point) []Point
	Smooth(points []Point) []Point
}

// Hardware bundles the collaborators a Controller drives
type Hardware struct {
	Motion MotionDriver
	Sensor SensorDriver
}

// Close releases drivers that hold resources
func (h Hardware) Close() error {
	var first error
	for _, d := range []interface{}{h.Motion, h.Sensor} {
		if c, ok := d.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
