package main

import (
	"encoding/json"
	"fmt"
	"os"

	control "cruise-ctrl-core/closed_loop/longitudinal_control"
)

// Scenario defines an offline closed-loop test against the vehicle plant
type Scenario struct {
	Meta       ScenarioMeta                   `json:"meta"`
	Timing     ScenarioTiming                 `json:"timing"`
	Plant      control.PlantConfig            `json:"plant"`
	Controller *control.SpeedControllerConfig `json:"controller,omitempty"` // Optional override of the run config
	Segments   []ScenarioSegment              `json:"segments"`
}

// ScenarioMeta contains scenario metadata
type ScenarioMeta struct {
	Name        string `json:"name"`
	Version     int    `json:"version"`
	Description string `json:"description"`
}

// ScenarioTiming defines timing parameters
type ScenarioTiming struct {
	DtS       float64 `json:"dt_s"`
	DurationS float64 `json:"duration_s"`
}

// ScenarioSegment applies conditions over [T0, T1). A negative T1 runs to
// the end of the scenario.
type ScenarioSegment struct {
	T0              float64 `json:"t0"`
	T1              float64 `json:"t1"`
	DisturbanceMPS2 float64 `json:"disturbance_mps2,omitempty"` // Extra deceleration (grade, headwind)
	Dropout         bool    `json:"dropout,omitempty"`          // No measurement reaches the controller
	Comment         string  `json:"comment,omitempty"`
}

// LoadScenario loads a scenario from JSON file
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario
func ParseScenario(data []byte) (Scenario, error) {
	var scen Scenario
	if err := json.Unmarshal(data, &scen); err != nil {
		return Scenario{}, fmt.Errorf("unmarshal: %w", err)
	}

	if scen.Timing.DurationS <= 0 {
		return Scenario{}, fmt.Errorf("invalid duration_s: %f", scen.Timing.DurationS)
	}
	if scen.Timing.DtS <= 0 || scen.Timing.DtS > scen.Timing.DurationS {
		return Scenario{}, fmt.Errorf("invalid dt_s: %f", scen.Timing.DtS)
	}
	if scen.Plant.DragCoeff < 0 {
		return Scenario{}, fmt.Errorf("invalid plant drag_coeff: %f", scen.Plant.DragCoeff)
	}
	for i, seg := range scen.Segments {
		if seg.T1 >= 0 && seg.T1 < seg.T0 {
			return Scenario{}, fmt.Errorf("segment %d: t1 %.3f before t0 %.3f", i, seg.T1, seg.T0)
		}
	}
	if scen.Controller != nil {
		if err := scen.Controller.Validate(); err != nil {
			return Scenario{}, fmt.Errorf("controller: %w", err)
		}
	}

	return scen, nil
}

// SegmentAt returns the first segment active at time t, or the zero segment
func (s *Scenario) SegmentAt(t float64) ScenarioSegment {
	for _, seg := range s.Segments {
		t1 := seg.T1
		if t1 < 0 {
			t1 = s.Timing.DurationS
		}

		if t >= seg.T0 && t < t1 {
			return seg
		}
	}
	return ScenarioSegment{}
}
