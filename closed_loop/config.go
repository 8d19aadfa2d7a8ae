package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	control "cruise-ctrl-core/closed_loop/longitudinal_control"
	"cruise-ctrl-core/tracing"
)

// CANConfig binds the controller to frames of the CAN map
type CANConfig struct {
	Interface         string `json:"iface"`
	MapPath           string `json:"map_path"`
	SpeedFrame        string `json:"speed_frame"`
	SpeedSignal       string `json:"speed_signal"`
	CommandFrame      string `json:"command_frame"`
	CommandSignal     string `json:"command_signal"`
	FeedbackTimeoutMS int    `json:"feedback_timeout_ms"`
}

// MonitorConfig configures the HTTP monitor; an empty address disables it
type MonitorConfig struct {
	Addr string `json:"addr"`
}

// RunConfig is everything a control run needs
type RunConfig struct {
	Controller control.SpeedControllerConfig `json:"controller"`
	CAN        CANConfig                     `json:"can"`
	Trace      tracing.Config                `json:"trace"`
	Monitor    MonitorConfig                 `json:"monitor"`
	LogPath    string                        `json:"log_path"`
	LogLevel   string                        `json:"log_level"`
}

func DefaultRunConfig() RunConfig {
	return RunConfig{
		Controller: control.DefaultSpeedControllerConfig(),
		CAN: CANConfig{
			Interface:         "vcan0",
			MapPath:           "config/can/can_map.csv",
			SpeedFrame:        "VEHICLE_SPEED",
			SpeedSignal:       "vehicle_speed_kph",
			CommandFrame:      "SPEED_CMD",
			CommandSignal:     "accel_cmd_norm",
			FeedbackTimeoutMS: 500,
		},
		Trace:    tracing.DefaultConfig(),
		LogPath:  "closed_loop.log",
		LogLevel: "info",
	}
}

// LoadRunConfig overlays a JSON file on the defaults. Fields missing from
// the file keep their default value.
func LoadRunConfig(path string) (RunConfig, error) {
	cfg := DefaultRunConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return RunConfig{}, fmt.Errorf("read file: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, fmt.Errorf("unmarshal: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs into the process environment. A missing
// file is not an error; variables already set win.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

const envPrefix = "SPEEDCTL_"

// ApplyEnv overrides fields from SPEEDCTL_* variables
func (c *RunConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"IFACE":        &c.CAN.Interface,
		"CAN_MAP":      &c.CAN.MapPath,
		"MONITOR_ADDR": &c.Monitor.Addr,
		"LOG_LEVEL":    &c.LogLevel,
		"LOG_PATH":     &c.LogPath,
		"PLOT_PATH":    &c.Trace.PlotPath,
		"CSV_PATH":     &c.Trace.CSVPath,
		"SQLITE_PATH":  &c.Trace.SQLitePath,
	}
	for key, dst := range strs {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = v
		}
	}

	floats := map[string]*float64{
		"KP":               &c.Controller.Kp,
		"KI":               &c.Controller.Ki,
		"KD":               &c.Controller.Kd,
		"TARGET_KPH":       &c.Controller.TargetSpeedKph,
		"MAX_ACCEL":        &c.Controller.MaxAccelMPS2,
		"INTEGRATOR_LIMIT": &c.Controller.IntegratorLimit,
		"DEFAULT_DT":       &c.Controller.DefaultTimestepS,
		"MAX_DT":           &c.Controller.MaxTimestepS,
		"UNIT_SCALE":       &c.Controller.UnitScale,
	}
	for key, dst := range floats {
		v, ok := lookup(envPrefix + key)
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = f
	}
	return nil
}

// Validate checks the parts of the config used by a live run
func (c RunConfig) Validate() error {
	if err := c.Controller.Validate(); err != nil {
		return fmt.Errorf("controller: %w", err)
	}
	if c.CAN.SpeedFrame == "" || c.CAN.SpeedSignal == "" {
		return errors.New("can: speed_frame and speed_signal are required")
	}
	if c.CAN.CommandFrame == "" || c.CAN.CommandSignal == "" {
		return errors.New("can: command_frame and command_signal are required")
	}
	if c.CAN.FeedbackTimeoutMS <= 0 {
		return fmt.Errorf("can: invalid feedback_timeout_ms %d", c.CAN.FeedbackTimeoutMS)
	}
	return nil
}
