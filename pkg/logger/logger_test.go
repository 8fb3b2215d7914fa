package logger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/fathomline/regatta/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestLogger(t *testing.T) {
	Convey("Given an initialized global logger", t, func() {
		So(logger.Init(), ShouldBeNil)

		Convey("When fetching the global instance", func() {
			l := logger.Get()
			So(l, ShouldNotBeNil)

			Convey("Then logging at each level should not panic", func() {
				ctx := context.Background()
				So(func() {
					l.Debug(ctx, "debug message", logger.String("k", "v"))
					l.Info(ctx, "info message", logger.Int("n", 1))
					l.Warn(ctx, "warn message", logger.Float64("f", 1.5))
					l.Error(ctx, "error message", logger.Error(errors.New("boom")))
				}, ShouldNotPanic)
			})

			Convey("Then named sub-loggers should be derivable", func() {
				So(l.Named("resolver"), ShouldNotBeNil)
				So(logger.Named("store"), ShouldNotBeNil)
			})
		})

		Convey("When setting the level from a string", func() {
			Convey("Then known levels should be accepted", func() {
				So(logger.SetLevelString("debug"), ShouldBeNil)
				So(logger.SetLevelString("INFO"), ShouldBeNil)
				So(logger.SetLevelString("warning"), ShouldBeNil)
				So(logger.SetLevelString("error"), ShouldBeNil)
				So(logger.SetLevelString(""), ShouldBeNil)
			})

			Convey("Then unknown levels should be rejected", func() {
				So(logger.SetLevelString("verbose"), ShouldNotBeNil)
			})
		})
	})
}
