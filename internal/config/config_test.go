package config_test

import (
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/okian/meshrsa/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func valid() *config.Config {
	cfg := config.New(context.Background())
	cfg.RootPath = "/data"
	cfg.Subjects = []string{"s01"}
	cfg.RawPathTemplate = "/raw/{subject}/{trial}-{hemi}.stc"
	cfg.Trials = [][]string{{"a", "b", "c"}, {"d", "e", "f"}}
	cfg.ModelPath = "/models.csv"
	return cfg
}

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.LogLevel, convey.ShouldEqual, "info")
			convey.So(cfg.AnalysisName, convey.ShouldEqual, "rsa")
			convey.So(cfg.TargetResolution, convey.ShouldEqual, 10242)
			convey.So(cfg.TemporalDownsampleRate, convey.ShouldEqual, 1)
			convey.So(cfg.OverwritePolicy, convey.ShouldEqual, config.PolicyAsk)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU())
			convey.So(cfg.QueueSize, convey.ShouldEqual, 1024)
		})

		convey.Convey("Then the default size cap parses", func() {
			n, err := cfg.MaxTensorBytes()
			convey.So(err, convey.ShouldBeNil)
			convey.So(n, convey.ShouldEqual, uint64(4<<30))
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a complete config", t, func() {
		cfg := valid()

		convey.So(cfg.ValidateLoad(), convey.ShouldBeNil)
		convey.So(cfg.ValidateFit(), convey.ShouldBeNil)
		convey.So(cfg.Sessions(), convey.ShouldEqual, 2)
		convey.So(cfg.Conditions(), convey.ShouldEqual, 3)

		convey.Convey("When the policy is unknown", func() {
			cfg.OverwritePolicy = "maybe"
			err := cfg.Validate()
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, "overwrite_policy")
		})

		convey.Convey("When the trial grid is ragged", func() {
			cfg.Trials = [][]string{{"a", "b"}, {"c"}}
			err := cfg.ValidateLoad()
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, "session 1")
		})

		convey.Convey("When the template has no trial placeholder", func() {
			cfg.RawPathTemplate = "/raw/{subject}.stc"
			convey.So(errors.Is(cfg.ValidateLoad(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When the lag is negative", func() {
			cfg.LagMs = -4
			convey.So(cfg.ValidateLoad(), convey.ShouldBeNil)
			convey.So(errors.Is(cfg.ValidateFit(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When the size cap is malformed", func() {
			cfg.MaxTensorSize = "lots"
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When the size cap is empty", func() {
			cfg.MaxTensorSize = ""
			n, err := cfg.MaxTensorBytes()
			convey.So(err, convey.ShouldBeNil)
			convey.So(n, convey.ShouldEqual, 0)
		})

		convey.Convey("When required paths are missing", func() {
			cfg.RootPath = ""
			cfg.Subjects = nil
			err := cfg.Validate()
			convey.So(err.Error(), convey.ShouldContainSubstring, "root_path")
			convey.So(err.Error(), convey.ShouldContainSubstring, "subjects")
		})
	})
}
