package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.einride.tech/can"

	control "cruise-ctrl-core/closed_loop/longitudinal_control"
	"cruise-ctrl-core/monitoring"
	"cruise-ctrl-core/utils"
)

const targetSignal = "target_speed_kph"

// maxRXErrors consecutive receive errors end the loop
const maxRXErrors = 50

type Runner struct {
	cfg        RunConfig
	log        *utils.Logger
	cmap       *utils.CANMap
	speedFrame *utils.FrameDef
	cmdFrame   *utils.FrameDef
	reader     utils.CANReader
	writer     utils.CANWriter
	ctrl       *control.SpeedController

	metrics *monitoring.Metrics
	state   *monitoring.StateStore
	now     func() time.Time
}

// RunnerDeps are the collaborators a Runner drives
type RunnerDeps struct {
	Map        *utils.CANMap
	Reader     utils.CANReader
	Writer     utils.CANWriter
	Controller *control.SpeedController
	Metrics    *monitoring.Metrics
	State      *monitoring.StateStore
	Now        func() time.Time
}

// NewRunner loads the CAN map and dials the interface for any transport
// collaborator deps leaves unset, then wires the controller to them.
func NewRunner(ctx context.Context, cfg RunConfig, deps RunnerDeps, log *utils.Logger) (*Runner, error) {
	if deps.Map == nil {
		cmap, err := utils.LoadCANMap(cfg.CAN.MapPath)
		if err != nil {
			return nil, fmt.Errorf("load can map: %w", err)
		}
		deps.Map = cmap
	}

	if deps.Reader == nil || deps.Writer == nil {
		reader, writer, err := dialCAN(ctx, cfg.CAN.Interface)
		if err != nil {
			return nil, err
		}
		deps.Reader, deps.Writer = reader, writer
	}

	r, err := newRunner(cfg, deps, log)
	if err != nil {
		_ = deps.Reader.Close()
		_ = deps.Writer.Close()
		return nil, err
	}
	return r, nil
}

func newRunner(cfg RunConfig, deps RunnerDeps, log *utils.Logger) (*Runner, error) {
	speedFrame, err := deps.Map.FrameByName(cfg.CAN.SpeedFrame)
	if err != nil {
		return nil, fmt.Errorf("speed frame: %w", err)
	}
	if err := speedFrame.Expect(utils.DirectionRX, cfg.CAN.SpeedSignal); err != nil {
		return nil, fmt.Errorf("speed frame: %w", err)
	}

	cmdFrame, err := deps.Map.FrameByName(cfg.CAN.CommandFrame)
	if err != nil {
		return nil, fmt.Errorf("command frame: %w", err)
	}
	if err := cmdFrame.Expect(utils.DirectionTX, cfg.CAN.CommandSignal); err != nil {
		return nil, fmt.Errorf("command frame: %w", err)
	}

	if deps.Controller == nil {
		return nil, errors.New("runner needs a speed controller")
	}
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewMetrics()
	}
	if deps.State == nil {
		deps.State = monitoring.NewStateStore()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Runner{
		cfg:        cfg,
		log:        log,
		cmap:       deps.Map,
		speedFrame: speedFrame,
		cmdFrame:   cmdFrame,
		reader:     deps.Reader,
		writer:     deps.Writer,
		ctrl:       deps.Controller,
		metrics:    deps.Metrics,
		state:      deps.State,
		now:        deps.Now,
	}, nil
}

func (r *Runner) Close() {
	if r.reader != nil {
		_ = r.reader.Close()
	}
	if r.writer != nil {
		_ = r.writer.Close()
	}
}

// SensorFeedback is one decoded speed measurement
type SensorFeedback struct {
	SpeedKph  float64
	Timestamp time.Time
}

// Run performs exactly one controller update and one command transmission
// per received speed frame until ctx is canceled or the transport fails.
func (r *Runner) Run(ctx context.Context) error {
	gains := r.ctrl.Config()
	r.log.Info("Starting control loop: rx=%s id=0x%X tx=%s id=0x%X iface=%s target=%.2f km/h Kp=%.2f Ki=%.2f Kd=%.2f",
		r.speedFrame.Name, r.speedFrame.ID, r.cmdFrame.Name, r.cmdFrame.ID, r.cfg.CAN.Interface,
		gains.TargetSpeedKph, gains.Kp, gains.Ki, gains.Kd)

	feedbackTimeout := time.Duration(r.cfg.CAN.FeedbackTimeoutMS) * time.Millisecond
	watchdog := time.NewTicker(feedbackTimeout)
	defer watchdog.Stop()

	var sent uint64
	lastRxTime := r.now()

	rxCtx, stopRx := context.WithCancel(ctx)
	defer stopRx()

	// Start background RX goroutine
	rxChan := make(chan SensorFeedback, 100)
	rxErr := make(chan error, 1)
	go r.receiveLoop(rxCtx, rxChan, rxErr)

	for {
		select {
		case <-ctx.Done():
			r.log.Warn("Context canceled; stopping control loop")
			r.log.Info("Completed. frames_sent=%d", sent)
			return ctx.Err()

		case err := <-rxErr:
			r.log.Critical("Receive failed: %v", err)
			return fmt.Errorf("receive: %w", err)

		case feedback := <-rxChan:
			lastRxTime = feedback.Timestamp
			if err := r.step(ctx, feedback); err != nil {
				return err
			}
			sent++

		case now := <-watchdog.C:
			if rxAge := now.Sub(lastRxTime); rxAge > feedbackTimeout {
				r.log.Warn("No sensor feedback for %.1f ms - holding last command", rxAge.Seconds()*1000)
			}
		}
	}
}

// step feeds one measurement through the controller and transmits the result
func (r *Runner) step(ctx context.Context, feedback SensorFeedback) error {
	cmd := r.ctrl.Update(feedback.SpeedKph, feedback.Timestamp)
	diag := r.ctrl.Diagnostics()
	target := r.ctrl.TargetSpeedKph()

	frame, err := r.cmap.EncodeEinrideFrame(r.cmdFrame.Name, map[string]float64{
		r.cfg.CAN.CommandSignal: cmd,
		targetSignal:            target,
	})
	if err != nil {
		r.log.Error("Encode failed: %v", err)
		return fmt.Errorf("encode %s: %w", r.cmdFrame.Name, err)
	}

	if err := r.writer.WriteFrame(ctx, frame); err != nil {
		r.log.Critical("Transmit failed: %v", err)
		return fmt.Errorf("transmit %s: %w", r.cmdFrame.Name, err)
	}

	r.metrics.ObserveUpdate(feedback.SpeedKph, target, diag)
	r.metrics.FrameSent()
	r.state.Update(func(s *monitoring.State) {
		s.Phase = r.ctrl.Phase().String()
		s.Mode = control.GetControlModeStr(cmd)
		s.Diagnostics = diag
		s.LastFeedback = feedback.Timestamp
		s.FramesSent++
	})

	if diag.DtFallback && diag.Updates > 1 {
		r.log.Debug("Timestep out of range; used default %.3fs", diag.Dt)
	}
	if diag.Updates%100 == 1 {
		r.log.Sugar().Debugw("controller",
			"v_kph", feedback.SpeedKph, "err", diag.Error, "cmd", cmd,
			"P", diag.P, "I", diag.I, "D", diag.D, "anti_windup", diag.AntiWindup)
	}
	r.log.Trace("TX id=0x%X len=%d data=% X v=%.2f cmd=%.4f %s",
		frame.ID, frame.Length, frame.Data[:frame.Length], feedback.SpeedKph, cmd, control.GetControlModeStr(cmd))
	return nil
}

// receiveLoop continuously reads CAN frames and decodes speed feedback
func (r *Runner) receiveLoop(ctx context.Context, feedback chan<- SensorFeedback, fatal chan<- error) {
	r.log.Debug("RX loop started")
	defer r.log.Debug("RX loop stopped")

	var rxErrors int
	for {
		frame, err := r.reader.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, utils.ErrReaderClosed) {
				fatal <- err
				return
			}
			r.metrics.RXError()
			rxErrors++
			if rxErrors >= maxRXErrors {
				fatal <- fmt.Errorf("%d consecutive errors: %w", rxErrors, err)
				return
			}
			r.log.Error("RX error: %v", err)
			continue
		}
		rxErrors = 0

		if frame.ID != r.speedFrame.ID {
			r.log.Trace("RX id=0x%X len=%d ignored", frame.ID, frame.Length)
			continue
		}

		speed, err := r.decodeSpeed(frame)
		if err != nil {
			r.metrics.RXError()
			r.log.Error("RX decode: %v", err)
			continue
		}
		r.metrics.FrameReceived()
		r.state.Update(func(s *monitoring.State) { s.FramesReceived++ })

		select {
		case feedback <- SensorFeedback{SpeedKph: speed, Timestamp: r.now()}:
		case <-ctx.Done():
			return
		default:
			r.log.Warn("Feedback queue full; dropped speed %.2f km/h", speed)
		}
	}
}

func (r *Runner) decodeSpeed(frame can.Frame) (float64, error) {
	values, err := r.cmap.DecodeEinrideFrame(frame)
	if err != nil {
		return 0, err
	}
	speed, ok := values[r.cfg.CAN.SpeedSignal]
	if !ok {
		return 0, fmt.Errorf("frame %s lacks %s", r.speedFrame.Name, r.cfg.CAN.SpeedSignal)
	}
	return speed, nil
}
