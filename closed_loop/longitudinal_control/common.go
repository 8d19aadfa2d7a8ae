package control

// ClampFloat clamps value between min and max
func ClampFloat(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// Sample is one (elapsed, measured, target) point reported after each update
type Sample struct {
	ElapsedS    float64 `json:"elapsed_s"`
	MeasuredKph float64 `json:"measured_kph"`
	TargetKph   float64 `json:"target_kph"`
}

// SampleObserver receives a Sample after every controller update
type SampleObserver interface {
	ObserveSample(s Sample)
}

// SampleObserverFunc adapts a plain function to SampleObserver
type SampleObserverFunc func(s Sample)

// ObserveSample calls f(s)
func (f SampleObserverFunc) ObserveSample(s Sample) { f(s) }

// MultiObserver fans a sample out to several observers in order
type MultiObserver []SampleObserver

// ObserveSample forwards s to every non-nil observer
func (m MultiObserver) ObserveSample(s Sample) {
	for _, o := range m {
		if o != nil {
			o.ObserveSample(s)
		}
	}
}

// GetControlModeStr returns a string describing the command direction
func GetControlModeStr(command float64) string {
	switch {
	case command > 0:
		return "[ACCEL]"
	case command < 0:
		return "[BRAKE]"
	}
	return "[COAST]"
}
