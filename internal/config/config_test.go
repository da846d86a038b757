package config_test

import (
	"errors"
	"runtime"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/tutorlog/internal/config"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.StoreDriver, convey.ShouldEqual, config.DriverMemory)
			convey.So(cfg.QueueSize, convey.ShouldEqual, 1024)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU()*4)
			convey.So(cfg.DedupeSize, convey.ShouldEqual, 50_000)
			convey.So(cfg.ServiceName, convey.ShouldEqual, "tutorlog")
			convey.So(cfg.TracingEnabled, convey.ShouldBeFalse)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs that cannot start a server", t, func() {
		cases := []struct {
			name   string
			mutate func(*config.Config)
		}{
			{"empty addr", func(c *config.Config) { c.Addr = "" }},
			{"unknown driver", func(c *config.Config) { c.StoreDriver = "firestore" }},
			{"sqlite no path", func(c *config.Config) { c.StoreDriver = config.DriverSQLite; c.SQLitePath = "" }},
			{"postgres no dsn", func(c *config.Config) { c.StoreDriver = config.DriverPostgres }},
			{"no workers", func(c *config.Config) { c.WorkerCount = 0 }},
			{"negative lane cap", func(c *config.Config) { c.QueueSize = -1 }},
		}
		for _, tc := range cases {
			convey.Convey("When "+tc.name, func() {
				cfg := config.New()
				tc.mutate(cfg)

				convey.Convey("Then validation fails with ErrInvalidConfig", func() {
					convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
				})
			})
		}
	})

	convey.Convey("Given a postgres config with a DSN", t, func() {
		cfg := config.New()
		cfg.StoreDriver = config.DriverPostgres
		cfg.PostgresDSN = "postgres://localhost/tutorlog"
		convey.So(cfg.Validate(), convey.ShouldBeNil)
	})
}
