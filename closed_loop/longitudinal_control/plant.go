package control

import "math"

// VehiclePlant is a first-order longitudinal model used to close the loop
// offline: dv/dt = cmd*maxAccel - drag*v - disturbance.
type VehiclePlant struct {
	cfg      PlantConfig
	speedMPS float64
}

// NewVehiclePlant creates a plant at its configured initial speed
func NewVehiclePlant(cfg PlantConfig) *VehiclePlant {
	if cfg.MaxAccelMPS2 <= 0 {
		cfg.MaxAccelMPS2 = DefaultMaxAccelMPS2
	}
	return &VehiclePlant{
		cfg:      cfg,
		speedMPS: math.Max(cfg.InitialSpeedKph/KphPerMPS, 0),
	}
}

// Step integrates the model over dt seconds and returns the new speed in km/h.
// The vehicle never rolls backwards.
func (vp *VehiclePlant) Step(command, disturbanceMPS2, dt float64) float64 {
	accel := ClampFloat(command, -1, 1)*vp.cfg.MaxAccelMPS2 -
		vp.cfg.DragCoeff*vp.speedMPS -
		disturbanceMPS2

	vp.speedMPS = math.Max(vp.speedMPS+accel*dt, 0)
	return vp.SpeedKph()
}

// SpeedKph returns the current speed
func (vp *VehiclePlant) SpeedKph() float64 {
	return vp.speedMPS * KphPerMPS
}
