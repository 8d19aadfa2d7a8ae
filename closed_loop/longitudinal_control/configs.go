package control

import (
	"errors"
	"fmt"
)

// Reference tuning for a passenger vehicle holding 60 km/h.
const (
	DefaultKp              = 0.8
	DefaultKi              = 0.25
	DefaultKd              = 0.1
	DefaultTargetSpeedKph  = 60.0
	DefaultMaxAccelMPS2    = 5.0
	DefaultIntegratorLimit = 20.0
	DefaultTimestepS       = 0.05
	DefaultMaxTimestepS    = 1.0

	// KphPerMPS converts km/h into m/s by division.
	KphPerMPS = 3.6
)

var errNonPositive = errors.New("must be > 0")

// SpeedControllerConfig holds the speed controller parameters
type SpeedControllerConfig struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`

	TargetSpeedKph  float64 `json:"target_speed_kph"`
	MaxAccelMPS2    float64 `json:"max_accel_mps2"`   // Saturation bound and normalization divisor
	IntegratorLimit float64 `json:"integrator_limit"` // Hard clamp on the accumulated error (m)

	DefaultTimestepS float64 `json:"default_timestep_s"` // Used on the first call and for rejected dt
	MaxTimestepS     float64 `json:"max_timestep_s"`     // Measured dt must lie in (0, MaxTimestepS]

	// UnitScale divides physical speeds into the internal unit (3.6 for km/h -> m/s)
	UnitScale float64 `json:"unit_scale"`
}

// DefaultSpeedControllerConfig returns the reference configuration
func DefaultSpeedControllerConfig() SpeedControllerConfig {
	return SpeedControllerConfig{
		Kp:               DefaultKp,
		Ki:               DefaultKi,
		Kd:               DefaultKd,
		TargetSpeedKph:   DefaultTargetSpeedKph,
		MaxAccelMPS2:     DefaultMaxAccelMPS2,
		IntegratorLimit:  DefaultIntegratorLimit,
		DefaultTimestepS: DefaultTimestepS,
		MaxTimestepS:     DefaultMaxTimestepS,
		UnitScale:        KphPerMPS,
	}
}

// Validate checks the bounds the control law divides by or clamps against
func (c SpeedControllerConfig) Validate() error {
	checks := []struct {
		name  string
		value float64
	}{
		{"max_accel_mps2", c.MaxAccelMPS2},
		{"integrator_limit", c.IntegratorLimit},
		{"default_timestep_s", c.DefaultTimestepS},
		{"max_timestep_s", c.MaxTimestepS},
		{"unit_scale", c.UnitScale},
	}
	for _, chk := range checks {
		if !(chk.value > 0) {
			return fmt.Errorf("invalid %s %f: %w", chk.name, chk.value, errNonPositive)
		}
	}
	return nil
}

// PlantConfig holds the first-order vehicle model used by the simulator
type PlantConfig struct {
	InitialSpeedKph float64 `json:"initial_speed_kph"`
	MaxAccelMPS2    float64 `json:"max_accel_mps2"`
	DragCoeff       float64 `json:"drag_coeff"` // Linear drag (1/s)
}
