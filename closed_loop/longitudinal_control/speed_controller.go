package control

import (
	"fmt"
	"math"
	"time"
)

// Phase is the lifecycle state of a SpeedController
type Phase int

const (
	// PhaseUninitialized means no measurement has been processed yet
	PhaseUninitialized Phase = iota
	// PhaseRunning means at least one measurement has been processed
	PhaseRunning
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseRunning:
		return "running"
	default:
		return "unknown"
	}
}

// controllerState is only ever touched by SpeedController methods
type controllerState struct {
	phase          Phase
	integral       float64
	prevError      float64
	lastTimestamp  time.Time
	startTimestamp time.Time
}

// SpeedController implements a discrete PID controller that turns a speed
// measurement into a normalized acceleration command in [-1, 1].
//
// A SpeedController is not safe for concurrent use. Callers must serialize
// calls to Update.
type SpeedController struct {
	cfg      SpeedControllerConfig
	state    controllerState
	observer SampleObserver

	diag Diagnostics
}

// Option customizes a SpeedController at construction
type Option func(*SpeedController)

// WithObserver registers the observer that receives one Sample per update
func WithObserver(o SampleObserver) Option {
	return func(sc *SpeedController) {
		sc.observer = o
	}
}

// NewSpeedController creates a new speed controller with given configuration
func NewSpeedController(cfg SpeedControllerConfig, opts ...Option) (*SpeedController, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("speed controller config: %w", err)
	}

	sc := &SpeedController{cfg: cfg}
	for _, opt := range opts {
		opt(sc)
	}
	return sc, nil
}

// Reset clears the controller state and returns it to PhaseUninitialized
func (sc *SpeedController) Reset() {
	sc.state = controllerState{}
	sc.diag = Diagnostics{}
}

// Update computes the normalized acceleration command for one speed
// measurement taken at now.
//
// Returns: command in [-1, 1], +1 meaning full acceleration
func (sc *SpeedController) Update(measuredKph float64, now time.Time) float64 {
	dt, fallback := sc.advanceClock(now)

	// Internal unit (m/s for the default scale)
	measured := measuredKph / sc.cfg.UnitScale
	target := sc.cfg.TargetSpeedKph / sc.cfg.UnitScale

	speedErr := target - measured

	// Derivative uses the error from the previous update
	var derivative float64
	if dt > 0 {
		derivative = (speedErr - sc.state.prevError) / dt
	}
	sc.state.prevError = speedErr

	sc.state.integral += speedErr * dt
	sc.state.integral = ClampFloat(sc.state.integral, -sc.cfg.IntegratorLimit, sc.cfg.IntegratorLimit)
	clampedIntegral := sc.state.integral

	p := sc.cfg.Kp * speedErr
	i := sc.cfg.Ki * sc.state.integral
	d := sc.cfg.Kd * derivative
	aUnsat := p + i + d

	a := ClampFloat(aUnsat, -sc.cfg.MaxAccelMPS2, sc.cfg.MaxAccelMPS2)

	// Anti-windup: drop this step's contribution while the actuator is pinned.
	// The integral is not re-clamped afterwards.
	antiWindup := math.Abs(a) >= sc.cfg.MaxAccelMPS2 && math.Abs(aUnsat) > math.Abs(a)
	if antiWindup {
		sc.state.integral -= speedErr * dt
	}

	command := ClampFloat(a/sc.cfg.MaxAccelMPS2, -1.0, 1.0)

	sc.diag = Diagnostics{
		Error:           speedErr,
		Integral:        sc.state.integral,
		ClampedIntegral: clampedIntegral,
		P:               p,
		I:               i,
		D:               d,
		Dt:              dt,
		DtFallback:      fallback,
		Unsaturated:     aUnsat,
		Saturated:       a,
		AntiWindup:      antiWindup,
		Command:         command,
		Updates:         sc.diag.Updates + 1,
	}

	if sc.observer != nil {
		sc.observer.ObserveSample(Sample{
			ElapsedS:    now.Sub(sc.state.startTimestamp).Seconds(),
			MeasuredKph: measuredKph,
			TargetKph:   sc.cfg.TargetSpeedKph,
		})
	}

	return command
}

// advanceClock moves the state machine forward and returns the timestep to
// use for this update. fallback reports whether the default was substituted.
func (sc *SpeedController) advanceClock(now time.Time) (dt float64, fallback bool) {
	switch sc.state.phase {
	case PhaseUninitialized:
		sc.state.startTimestamp = now
		sc.state.phase = PhaseRunning
		dt = sc.cfg.DefaultTimestepS
		fallback = true
	default:
		dt = now.Sub(sc.state.lastTimestamp).Seconds()
		if dt <= 0 || dt > sc.cfg.MaxTimestepS {
			dt = sc.cfg.DefaultTimestepS
			fallback = true
		}
	}
	sc.state.lastTimestamp = now
	return dt, fallback
}

// Diagnostics contains the controller internals of the most recent update
type Diagnostics struct {
	Error           float64 `json:"error"`            // Internal units
	Integral        float64 `json:"integral"`         // After anti-windup
	ClampedIntegral float64 `json:"clamped_integral"` // After the clamp, before anti-windup
	P               float64 `json:"p"`
	I               float64 `json:"i"`
	D               float64 `json:"d"`
	Dt              float64 `json:"dt"`
	DtFallback      bool    `json:"dt_fallback"`
	Unsaturated     float64 `json:"unsaturated"`
	Saturated       float64 `json:"saturated"`
	AntiWindup      bool    `json:"anti_windup"`
	Command         float64 `json:"command"`
	Updates         uint64  `json:"updates"`
}

// Diagnostics returns current controller state for logging/debugging
func (sc *SpeedController) Diagnostics() Diagnostics {
	return sc.diag
}

// Phase returns the lifecycle state
func (sc *SpeedController) Phase() Phase {
	return sc.state.phase
}

// Config returns a copy of the controller configuration
func (sc *SpeedController) Config() SpeedControllerConfig {
	return sc.cfg
}

// TargetSpeedKph returns the speed the controller is driving toward
func (sc *SpeedController) TargetSpeedKph() float64 {
	return sc.cfg.TargetSpeedKph
}

// GetIntegral returns the current integral term value
func (sc *SpeedController) GetIntegral() float64 {
	return sc.state.integral
}
