package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.einride.tech/can"
	"go.uber.org/mock/gomock"

	control "cruise-ctrl-core/closed_loop/longitudinal_control"
	"cruise-ctrl-core/monitoring"
	"cruise-ctrl-core/utils"
)

// steppingClock advances by step on every read
type steppingClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

var _ = Describe("Runner", func() {
	var (
		mockCtrl *gomock.Controller
		reader   *MockCANReader
		writer   *MockCANWriter
		cmap     *utils.CANMap
		ctrl     *control.SpeedController
		state    *monitoring.StateStore
		runner   *Runner
		cfg      RunConfig
	)

	speedFrame := func(kph float64) can.Frame {
		f, err := cmap.EncodeEinrideFrame("VEHICLE_SPEED", map[string]float64{"vehicle_speed_kph": kph})
		Expect(err).NotTo(HaveOccurred())
		return f
	}

	// feed returns a ReadFrame stub that replays frames and then blocks
	feed := func(frames ...can.Frame) func(context.Context) (can.Frame, error) {
		var mu sync.Mutex
		next := 0
		return func(ctx context.Context) (can.Frame, error) {
			mu.Lock()
			if next < len(frames) {
				f := frames[next]
				next++
				mu.Unlock()
				return f, nil
			}
			mu.Unlock()
			<-ctx.Done()
			return can.Frame{}, ctx.Err()
		}
	}

	BeforeEach(func() {
		var err error
		mockCtrl = gomock.NewController(GinkgoT())
		reader = NewMockCANReader(mockCtrl)
		writer = NewMockCANWriter(mockCtrl)

		cmap, err = utils.LoadCANMap("../config/can/can_map.csv")
		Expect(err).NotTo(HaveOccurred())

		ctrl, err = control.NewSpeedController(control.DefaultSpeedControllerConfig())
		Expect(err).NotTo(HaveOccurred())

		state = monitoring.NewStateStore()
		cfg = DefaultRunConfig()
		clock := &steppingClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), step: 50 * time.Millisecond}

		runner, err = newRunner(cfg, RunnerDeps{
			Map:        cmap,
			Reader:     reader,
			Writer:     writer,
			Controller: ctrl,
			State:      state,
			Now:        clock.Now,
		}, utils.NewNopLogger())
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("construction", func() {
		It("rejects an unknown speed frame", func() {
			cfg.CAN.SpeedFrame = "WHEEL_SPEED"
			_, err := newRunner(cfg, RunnerDeps{Map: cmap, Reader: reader, Writer: writer, Controller: ctrl}, utils.NewNopLogger())
			Expect(err).To(MatchError(ContainSubstring("speed frame")))
		})

		It("rejects a speed frame with the wrong direction", func() {
			cfg.CAN.SpeedFrame = "SPEED_CMD"
			_, err := newRunner(cfg, RunnerDeps{Map: cmap, Reader: reader, Writer: writer, Controller: ctrl}, utils.NewNopLogger())
			Expect(err).To(HaveOccurred())
		})

		It("rejects a missing command signal", func() {
			cfg.CAN.CommandSignal = "torque_cmd"
			_, err := newRunner(cfg, RunnerDeps{Map: cmap, Reader: reader, Writer: writer, Controller: ctrl}, utils.NewNopLogger())
			Expect(err).To(MatchError(ContainSubstring("command frame")))
		})

		It("requires a controller", func() {
			_, err := newRunner(cfg, RunnerDeps{Map: cmap, Reader: reader, Writer: writer}, utils.NewNopLogger())
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Run", func() {
		It("sends one command per speed frame", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			unrelated := can.Frame{ID: 0x123, Length: 2, Data: can.Data{0xAA, 0x55}}
			reader.EXPECT().ReadFrame(gomock.Any()).
				DoAndReturn(feed(speedFrame(0), unrelated, speedFrame(30), speedFrame(60))).
				AnyTimes()

			var mu sync.Mutex
			var sent []can.Frame
			writer.EXPECT().WriteFrame(gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ context.Context, f can.Frame) error {
					mu.Lock()
					defer mu.Unlock()
					sent = append(sent, f)
					if len(sent) == 3 {
						cancel()
					}
					return nil
				}).
				Times(3)

			err := runner.Run(ctx)
			Expect(err).To(MatchError(context.Canceled))

			mu.Lock()
			defer mu.Unlock()
			Expect(sent).To(HaveLen(3))

			for i, f := range sent {
				Expect(f.ID).To(Equal(uint32(0x200)))
				values, err := cmap.DecodeEinrideFrame(f)
				Expect(err).NotTo(HaveOccurred())
				Expect(values["accel_cmd_norm"]).To(BeNumerically(">=", -1), "frame %d", i)
				Expect(values["accel_cmd_norm"]).To(BeNumerically("<=", 1), "frame %d", i)
				Expect(values["target_speed_kph"]).To(BeNumerically("~", 60, 0.01))
				Expect(values["system_enable"]).To(Equal(1.0))
			}

			first, err := cmap.DecodeEinrideFrame(sent[0])
			Expect(err).NotTo(HaveOccurred())
			Expect(first["accel_cmd_norm"]).To(BeNumerically("~", 1.0, 1e-4))

			diag := ctrl.Diagnostics()
			Expect(diag.Updates).To(Equal(uint64(3)))
			Expect(diag.DtFallback).To(BeFalse())
			Expect(diag.Dt).To(BeNumerically("~", 0.05, 1e-9))

			snap := state.Snapshot()
			Expect(snap.FramesSent).To(Equal(uint64(3)))
			Expect(snap.FramesReceived).To(Equal(uint64(3)))
			Expect(snap.Phase).To(Equal("running"))
		})

		It("stops when a command cannot be transmitted", func() {
			reader.EXPECT().ReadFrame(gomock.Any()).
				DoAndReturn(feed(speedFrame(42))).
				AnyTimes()
			writer.EXPECT().WriteFrame(gomock.Any(), gomock.Any()).
				Return(errors.New("no buffer space available")).
				Times(1)

			err := runner.Run(context.Background())
			Expect(err).To(MatchError(ContainSubstring("transmit SPEED_CMD")))
		})

		It("stops when the reader is closed underneath it", func() {
			reader.EXPECT().ReadFrame(gomock.Any()).
				Return(can.Frame{}, utils.ErrReaderClosed).
				Times(1)

			err := runner.Run(context.Background())
			Expect(err).To(MatchError(utils.ErrReaderClosed))
		})

		It("stops when the reader wraps a socket failure as closed", func() {
			reader.EXPECT().ReadFrame(gomock.Any()).
				Return(can.Frame{}, fmt.Errorf("%w: read: network is down", utils.ErrReaderClosed)).
				Times(1)

			err := runner.Run(context.Background())
			Expect(err).To(MatchError(utils.ErrReaderClosed))
			Expect(err).To(MatchError(ContainSubstring("network is down")))
		})

		It("stops when every read keeps failing", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			downErr := errors.New("read: network is down")
			reader.EXPECT().ReadFrame(gomock.Any()).
				Return(can.Frame{}, downErr).
				Times(maxRXErrors)

			err := runner.Run(ctx)
			Expect(err).To(MatchError(downErr))
			Expect(ctx.Err()).NotTo(HaveOccurred())
		})

		It("keeps reading after a transient receive error", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			calls := 0
			next := feed(speedFrame(55))
			reader.EXPECT().ReadFrame(gomock.Any()).
				DoAndReturn(func(ctx context.Context) (can.Frame, error) {
					calls++
					if calls == 1 {
						return can.Frame{}, errors.New("short read")
					}
					return next(ctx)
				}).
				AnyTimes()
			writer.EXPECT().WriteFrame(gomock.Any(), gomock.Any()).
				DoAndReturn(func(context.Context, can.Frame) error {
					cancel()
					return nil
				}).
				Times(1)

			Expect(runner.Run(ctx)).To(MatchError(context.Canceled))
			Expect(state.Snapshot().FramesSent).To(Equal(uint64(1)))
		})
	})

	Describe("Close", func() {
		It("closes both transports", func() {
			reader.EXPECT().Close().Return(nil)
			writer.EXPECT().Close().Return(nil)
			runner.Close()
		})
	})
})
