package main

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	control "cruise-ctrl-core/closed_loop/longitudinal_control"
)

func envFrom(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

var _ = Describe("RunConfig", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	writeFile := func(name, body string) string {
		path := filepath.Join(dir, name)
		Expect(os.WriteFile(path, []byte(body), 0o644)).To(Succeed())
		return path
	}

	It("uses the defaults without a config file", func() {
		cfg, err := LoadRunConfig("")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Controller).To(Equal(control.DefaultSpeedControllerConfig()))
		Expect(cfg.CAN.SpeedFrame).To(Equal("VEHICLE_SPEED"))
		Expect(cfg.CAN.CommandSignal).To(Equal("accel_cmd_norm"))
		Expect(cfg.Validate()).To(Succeed())
	})

	It("overlays a partial file on the defaults", func() {
		path := writeFile("run.json", `{"controller": {"kp": 0.5, "target_speed_kph": 50}, "can": {"iface": "can1"}}`)

		cfg, err := LoadRunConfig(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Controller.Kp).To(Equal(0.5))
		Expect(cfg.Controller.TargetSpeedKph).To(Equal(50.0))
		Expect(cfg.Controller.Ki).To(Equal(control.DefaultKi))
		Expect(cfg.CAN.Interface).To(Equal("can1"))
		Expect(cfg.CAN.SpeedFrame).To(Equal("VEHICLE_SPEED"))
	})

	It("reports malformed files", func() {
		path := writeFile("broken.json", `{"controller": `)
		_, err := LoadRunConfig(path)
		Expect(err).To(MatchError(ContainSubstring("unmarshal")))
	})

	It("loads the shipped example", func() {
		cfg, err := LoadRunConfig("../config/speedctl.example.json")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Validate()).To(Succeed())
	})

	Describe("ApplyEnv", func() {
		It("overrides strings and gains", func() {
			cfg := DefaultRunConfig()
			err := cfg.ApplyEnv(envFrom(map[string]string{
				"SPEEDCTL_IFACE":        "can2",
				"SPEEDCTL_MONITOR_ADDR": ":9200",
				"SPEEDCTL_KI":           "0.3",
				"SPEEDCTL_TARGET_KPH":   "80",
			}))
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.CAN.Interface).To(Equal("can2"))
			Expect(cfg.Monitor.Addr).To(Equal(":9200"))
			Expect(cfg.Controller.Ki).To(Equal(0.3))
			Expect(cfg.Controller.TargetSpeedKph).To(Equal(80.0))
			Expect(cfg.Controller.Kp).To(Equal(control.DefaultKp))
		})

		It("overrides the timestep bound and unit scale", func() {
			cfg := DefaultRunConfig()
			err := cfg.ApplyEnv(envFrom(map[string]string{
				"SPEEDCTL_MAX_DT":     "0.5",
				"SPEEDCTL_UNIT_SCALE": "1",
			}))
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Controller.MaxTimestepS).To(Equal(0.5))
			Expect(cfg.Controller.UnitScale).To(Equal(1.0))
			Expect(cfg.Controller.DefaultTimestepS).To(Equal(control.DefaultTimestepS))
		})

		It("rejects unparsable numbers", func() {
			cfg := DefaultRunConfig()
			err := cfg.ApplyEnv(envFrom(map[string]string{"SPEEDCTL_KP": "fast"}))
			Expect(err).To(MatchError(ContainSubstring("SPEEDCTL_KP")))
		})
	})

	It("reads a dotenv file without clobbering the environment", func() {
		path := writeFile(".env", "SPEEDCTL_TEST_DOTENV=from-file\nSPEEDCTL_TEST_PRESET=from-file\n")
		GinkgoT().Setenv("SPEEDCTL_TEST_PRESET", "from-env")
		GinkgoT().Setenv("SPEEDCTL_TEST_DOTENV", "")
		Expect(os.Unsetenv("SPEEDCTL_TEST_DOTENV")).To(Succeed())

		Expect(LoadDotEnv(path)).To(Succeed())
		Expect(os.Getenv("SPEEDCTL_TEST_DOTENV")).To(Equal("from-file"))
		Expect(os.Getenv("SPEEDCTL_TEST_PRESET")).To(Equal("from-env"))
	})

	It("ignores a missing dotenv file", func() {
		Expect(LoadDotEnv(filepath.Join(dir, "absent.env"))).To(Succeed())
	})

	It("rejects a non-positive feedback timeout", func() {
		cfg := DefaultRunConfig()
		cfg.CAN.FeedbackTimeoutMS = 0
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("feedback_timeout_ms")))
	})

	It("layers file, environment and explicit flags", func() {
		path := writeFile("run.json", `{"controller": {"kp": 0.5, "target_speed_kph": 50}}`)

		cfg, err := LoadRunConfig(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.ApplyEnv(envFrom(map[string]string{"SPEEDCTL_TARGET_KPH": "70"}))).To(Succeed())

		opts := &cliOptions{}
		root := buildRootCmd(opts)
		runCmd, _, err := root.Find([]string{"run"})
		Expect(err).NotTo(HaveOccurred())
		Expect(runCmd.ParseFlags([]string{"--kp", "1.5", "--iface", "can3"})).To(Succeed())

		applyFlags(runCmd, opts, &cfg)
		Expect(cfg.Controller.Kp).To(Equal(1.5))
		Expect(cfg.Controller.TargetSpeedKph).To(Equal(70.0))
		Expect(cfg.Controller.Ki).To(Equal(control.DefaultKi))
		Expect(cfg.CAN.Interface).To(Equal("can3"))
		Expect(cfg.LogLevel).To(Equal("info"))
	})
})
