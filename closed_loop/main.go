package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	control "cruise-ctrl-core/closed_loop/longitudinal_control"
	"cruise-ctrl-core/monitoring"
	"cruise-ctrl-core/tracing"
	"cruise-ctrl-core/utils"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

type cliOptions struct {
	configPath string
	envFile    string
	logLevel   string
	logPath    string

	iface       string
	mapPath     string
	monitorAddr string

	plotPath   string
	csvPath    string
	sqlitePath string

	targetKph float64
	kp        float64
	ki        float64
	kd        float64

	scenarioPath string
}

func newRootCmd() *cobra.Command {
	return buildRootCmd(&cliOptions{})
}

func buildRootCmd(opts *cliOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "speedctl",
		Short: "Closed-loop PID speed controller for a CAN-connected vehicle.",
		Long: `speedctl drives a vehicle toward a target speed. It consumes speed ` +
			`frames, publishes normalized acceleration commands and records a ` +
			`trace of actual vs target speed.`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "JSON run config")
	pf.StringVar(&opts.envFile, "env-file", ".env", "dotenv file with SPEEDCTL_* overrides")
	pf.StringVar(&opts.logLevel, "log", "info", "trace|debug|info|warn|error|critical")
	pf.StringVar(&opts.logPath, "log-file", "closed_loop.log", "log file path")
	pf.StringVar(&opts.plotPath, "plot", "speed_plot.png", "speed chart output (empty disables)")
	pf.StringVar(&opts.csvPath, "csv", "speed_data.csv", "CSV trace output (empty disables)")
	pf.StringVar(&opts.sqlitePath, "sqlite", "", "SQLite trace database (empty disables)")
	pf.Float64Var(&opts.targetKph, "target-kph", control.DefaultTargetSpeedKph, "target speed (km/h)")
	pf.Float64Var(&opts.kp, "kp", control.DefaultKp, "proportional gain")
	pf.Float64Var(&opts.ki, "ki", control.DefaultKi, "integral gain")
	pf.Float64Var(&opts.kd, "kd", control.DefaultKd, "derivative gain")

	root.AddCommand(newRunCmd(opts), newSimCmd(opts))
	return root
}

func newRunCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the controller against a SocketCAN interface until interrupted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			return runLive(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&opts.iface, "iface", "vcan0", "SocketCAN interface name")
	cmd.Flags().StringVar(&opts.mapPath, "map", "config/can/can_map.csv", "path to can_map.csv")
	cmd.Flags().StringVar(&opts.monitorAddr, "monitor", "", "HTTP monitor address, e.g. :9101 (empty disables)")
	return cmd
}

func newSimCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Close the loop against a simulated vehicle.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, opts)
			if err != nil {
				return err
			}
			scen, err := LoadScenario(opts.scenarioPath)
			if err != nil {
				return fmt.Errorf("load scenario: %w", err)
			}
			return runSim(cmd.Context(), cfg, scen)
		},
	}

	cmd.Flags().StringVar(&opts.scenarioPath, "scenario", "closed_loop/scenarios/hold_60kph.json", "scenario JSON file")
	return cmd
}

// resolveConfig layers defaults, the config file, the environment and the
// flags the user set explicitly, in that order.
func resolveConfig(cmd *cobra.Command, opts *cliOptions) (RunConfig, error) {
	if err := LoadDotEnv(opts.envFile); err != nil {
		return RunConfig{}, err
	}

	cfg, err := LoadRunConfig(opts.configPath)
	if err != nil {
		return RunConfig{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return RunConfig{}, err
	}
	applyFlags(cmd, opts, &cfg)
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, opts *cliOptions, cfg *RunConfig) {
	changed := cmd.Flags().Changed

	strs := []struct {
		flag string
		src  string
		dst  *string
	}{
		{"log", opts.logLevel, &cfg.LogLevel},
		{"log-file", opts.logPath, &cfg.LogPath},
		{"plot", opts.plotPath, &cfg.Trace.PlotPath},
		{"csv", opts.csvPath, &cfg.Trace.CSVPath},
		{"sqlite", opts.sqlitePath, &cfg.Trace.SQLitePath},
		{"iface", opts.iface, &cfg.CAN.Interface},
		{"map", opts.mapPath, &cfg.CAN.MapPath},
		{"monitor", opts.monitorAddr, &cfg.Monitor.Addr},
	}
	for _, s := range strs {
		if changed(s.flag) {
			*s.dst = s.src
		}
	}

	floats := []struct {
		flag string
		src  float64
		dst  *float64
	}{
		{"target-kph", opts.targetKph, &cfg.Controller.TargetSpeedKph},
		{"kp", opts.kp, &cfg.Controller.Kp},
		{"ki", opts.ki, &cfg.Controller.Ki},
		{"kd", opts.kd, &cfg.Controller.Kd},
	}
	for _, f := range floats {
		if changed(f.flag) {
			*f.dst = f.src
		}
	}
}

// setup opens the logger and trace recorder and registers both for atexit
func setup(cfg RunConfig) (*utils.Logger, *tracing.Recorder, error) {
	log, err := utils.NewFileLogger(cfg.LogPath, utils.ParseLevel(cfg.LogLevel), true)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open %s: %w", cfg.LogPath, err)
	}

	rec := tracing.NewRecorder(cfg.Trace, log.Named("trace"))
	if err := rec.Init(); err != nil {
		_ = log.Close()
		return nil, nil, fmt.Errorf("trace init: %w", err)
	}

	// Handlers run in reverse order: traces first, then the log file.
	atexit.Register(func() { _ = log.Close() })
	rec.CloseAtExit()
	return log, rec, nil
}

func runLive(parent context.Context, cfg RunConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, rec, err := setup(cfg)
	if err != nil {
		return err
	}

	state := monitoring.NewStateStore()
	metrics := monitoring.NewMetrics()
	lastSample := control.SampleObserverFunc(func(s control.Sample) {
		state.Update(func(st *monitoring.State) { st.LastSample = s })
	})

	ctrl, err := control.NewSpeedController(cfg.Controller,
		control.WithObserver(control.MultiObserver{rec, lastSample}))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := NewRunner(ctx, cfg, RunnerDeps{
		Controller: ctrl,
		Metrics:    metrics,
		State:      state,
	}, log.Named("runner"))
	if err != nil {
		log.Critical("Startup failed: %v", err)
		return err
	}
	defer runner.Close()

	if cfg.Monitor.Addr != "" {
		srv := monitoring.NewServer(cfg.Monitor.Addr, state, metrics, cfg.Controller, log.Named("monitor"))
		if _, err := srv.Start(ctx); err != nil {
			return err
		}
	}

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Critical("Run failed: %v", err)
		return err
	}
	return rec.Close()
}

func runSim(ctx context.Context, cfg RunConfig, scen Scenario) error {
	ctrlCfg := cfg.Controller
	if scen.Controller != nil {
		ctrlCfg = *scen.Controller
	}

	log, rec, err := setup(cfg)
	if err != nil {
		return err
	}

	ctrl, err := control.NewSpeedController(ctrlCfg, control.WithObserver(rec))
	if err != nil {
		return err
	}

	if _, err := Simulate(ctx, scen, ctrl, log.Named("sim")); err != nil {
		return err
	}
	return rec.Close()
}
