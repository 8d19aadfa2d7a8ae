package main

import (
	"context"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	control "cruise-ctrl-core/closed_loop/longitudinal_control"
	"cruise-ctrl-core/utils"
)

var _ = Describe("Scenario", func() {
	It("loads the shipped hold scenario", func() {
		scen, err := LoadScenario("scenarios/hold_60kph.json")
		Expect(err).NotTo(HaveOccurred())
		Expect(scen.Timing.DtS).To(Equal(0.05))
		Expect(scen.Segments).NotTo(BeEmpty())
	})

	DescribeTable("rejects invalid scenarios",
		func(body, want string) {
			_, err := ParseScenario([]byte(body))
			Expect(err).To(MatchError(ContainSubstring(want)))
		},
		Entry("no duration", `{"timing": {"dt_s": 0.05}}`, "duration_s"),
		Entry("dt larger than duration", `{"timing": {"dt_s": 2, "duration_s": 1}}`, "dt_s"),
		Entry("negative drag", `{"timing": {"dt_s": 0.05, "duration_s": 1}, "plant": {"drag_coeff": -1}}`, "drag_coeff"),
		Entry("reversed segment", `{"timing": {"dt_s": 0.05, "duration_s": 10}, "segments": [{"t0": 5, "t1": 2}]}`, "segment 0"),
		Entry("bad controller override", `{"timing": {"dt_s": 0.05, "duration_s": 10}, "controller": {"kp": 1}}`, "controller"),
		Entry("malformed json", `{"timing": `, "unmarshal"),
	)

	It("selects the active segment", func() {
		scen, err := ParseScenario([]byte(`{
			"timing": {"dt_s": 0.1, "duration_s": 20},
			"segments": [
				{"t0": 2, "t1": 4, "disturbance_mps2": 0.5},
				{"t0": 10, "t1": -1, "dropout": true}
			]}`))
		Expect(err).NotTo(HaveOccurred())

		Expect(scen.SegmentAt(1).DisturbanceMPS2).To(BeZero())
		Expect(scen.SegmentAt(2).DisturbanceMPS2).To(Equal(0.5))
		Expect(scen.SegmentAt(4).DisturbanceMPS2).To(BeZero())
		Expect(scen.SegmentAt(19.9).Dropout).To(BeTrue())
	})
})

var _ = Describe("Simulate", func() {
	var ctrl *control.SpeedController

	BeforeEach(func() {
		var err error
		ctrl, err = control.NewSpeedController(control.DefaultSpeedControllerConfig())
		Expect(err).NotTo(HaveOccurred())
	})

	It("holds the target through grade changes and a dropout", func() {
		scen, err := LoadScenario("scenarios/hold_60kph.json")
		Expect(err).NotTo(HaveOccurred())

		var elapsed []float64
		ctrl, err = control.NewSpeedController(control.DefaultSpeedControllerConfig(),
			control.WithObserver(control.SampleObserverFunc(func(s control.Sample) {
				elapsed = append(elapsed, s.ElapsedS)
			})))
		Expect(err).NotTo(HaveOccurred())

		res, err := Simulate(context.Background(), scen, ctrl, utils.NewNopLogger())
		Expect(err).NotTo(HaveOccurred())

		Expect(res.Steps).To(Equal(1800))
		Expect(res.Dropped).To(BeNumerically(">=", 39))
		Expect(res.Dropped).To(BeNumerically("<=", 41))
		Expect(res.Updates).To(Equal(res.Steps - res.Dropped))
		Expect(res.Saturated).To(BeNumerically(">", 0))
		Expect(res.FinalSpeedKph).To(BeNumerically("~", 60, 1.5))
		Expect(res.PeakSpeedKph).To(BeNumerically("<", 70))

		Expect(elapsed).To(HaveLen(res.Updates))
		var maxGap float64
		for i := 1; i < len(elapsed); i++ {
			maxGap = math.Max(maxGap, elapsed[i]-elapsed[i-1])
		}
		Expect(maxGap).To(BeNumerically(">", 1.9))
	})

	It("stops when the context is canceled", func() {
		scen, err := ParseScenario([]byte(`{"timing": {"dt_s": 0.05, "duration_s": 10}}`))
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res, err := Simulate(ctx, scen, ctrl, utils.NewNopLogger())
		Expect(err).To(MatchError(context.Canceled))
		Expect(res.Steps).To(BeZero())
	})
})
