package main

import (
	"context"
	"math"
	"time"

	control "cruise-ctrl-core/closed_loop/longitudinal_control"
	"cruise-ctrl-core/utils"
)

// simEpoch anchors the synthetic clock handed to the controller
var simEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// SimResult summarizes an offline run
type SimResult struct {
	Steps         int
	Updates       int
	Dropped       int
	Saturated     int
	FinalSpeedKph float64
	PeakSpeedKph  float64
}

// Simulate closes the loop between ctrl and a VehiclePlant. Every step that
// is not inside a dropout segment delivers one measurement; during a dropout
// the last command is held, so the next delivered sample sees a large gap.
func Simulate(ctx context.Context, scen Scenario, ctrl *control.SpeedController, log *utils.Logger) (SimResult, error) {
	plant := control.NewVehiclePlant(scen.Plant)
	dt := time.Duration(math.Round(scen.Timing.DtS * float64(time.Second)))
	steps := int(math.Floor(scen.Timing.DurationS/scen.Timing.DtS + 1e-9))

	log.Info("Simulating %q: dt=%.3fs duration=%.1fs segments=%d",
		scen.Meta.Name, scen.Timing.DtS, scen.Timing.DurationS, len(scen.Segments))

	res := SimResult{PeakSpeedKph: plant.SpeedKph()}
	speed := plant.SpeedKph()
	var cmd float64
	var inDropout bool

	for k := 0; k < steps; k++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		t := float64(k) * scen.Timing.DtS
		seg := scen.SegmentAt(t)

		if seg.Dropout != inDropout {
			inDropout = seg.Dropout
			if inDropout {
				log.Warn("t=%.2f measurement dropout begins", t)
			} else {
				log.Info("t=%.2f measurement restored", t)
			}
		}

		if seg.Dropout {
			res.Dropped++
		} else {
			cmd = ctrl.Update(speed, simEpoch.Add(time.Duration(k)*dt))
			res.Updates++
			if math.Abs(cmd) >= 1 {
				res.Saturated++
			}
			log.Trace("t=%.2f v=%.2f cmd=%.3f %s", t, speed, cmd, control.GetControlModeStr(cmd))
		}

		speed = plant.Step(cmd, seg.DisturbanceMPS2, scen.Timing.DtS)
		res.PeakSpeedKph = math.Max(res.PeakSpeedKph, speed)
		res.Steps++
	}

	res.FinalSpeedKph = speed
	log.Info("Simulation done: steps=%d updates=%d dropped=%d saturated=%d final=%.2f km/h peak=%.2f km/h",
		res.Steps, res.Updates, res.Dropped, res.Saturated, res.FinalSpeedKph, res.PeakSpeedKph)
	return res, nil
}
