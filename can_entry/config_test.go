package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"can-entry-core/utils"
)

const configFixture = `
interface: can1
log_level: debug
tick_ms: 20
recording: true
recording_level: 3
tx_list: lists/tx.xml
isotp:
  enabled: true
  tx_id: "18DA10F1"
  rx_id: "18DAF110"
  block_size: 8
  st_min: 5
clickhouse:
  enabled: true
  host: ch.local
  port: 9440
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "can_entry.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	Convey("Given a YAML config file", t, func() {
		path := writeConfig(t, configFixture)

		Convey("File values replace the defaults", func() {
			cfg, err := LoadConfig(path)
			So(err, ShouldBeNil)
			So(cfg.Interface, ShouldEqual, "can1")
			So(cfg.Level(), ShouldEqual, utils.DEBUG)
			So(cfg.TickInterval(), ShouldEqual, 20*time.Millisecond)
			So(cfg.RecordingLevel, ShouldEqual, uint8(3))
			So(cfg.ClickHouse.Database, ShouldEqual, "default")
			So(cfg.ClickHouse.Port, ShouldEqual, 9440)
			So(cfg.Validate(), ShouldBeNil)

			lc, err := cfg.IsoTpLink()
			So(err, ShouldBeNil)
			So(lc.TxID, ShouldEqual, uint32(0x18DA10F1))
			So(lc.RxID, ShouldEqual, uint32(0x18DAF110))
			So(lc.BlockSize, ShouldEqual, uint8(8))
			So(lc.StMin, ShouldEqual, uint8(5))
		})

		Convey("Flags given on the command line win", func() {
			cfg, _ := LoadConfig(path)
			fs := flag.NewFlagSet("test", flag.ContinueOnError)
			opts := newOptions(fs)
			So(fs.Parse([]string{"-sim", "-tick", "50", "-map", "m.xml", "-isotp", "-record=false"}), ShouldBeNil)
			opts.apply(&cfg)
			So(cfg.Simulated, ShouldBeTrue)
			So(cfg.TickMS, ShouldEqual, 50)
			So(cfg.Mapping, ShouldEqual, "m.xml")
			So(cfg.IsoTp.Enabled, ShouldBeTrue)
			So(cfg.Recording, ShouldBeFalse)
		})

		Convey("Flags left at their defaults do not touch the file values", func() {
			cfg, _ := LoadConfig(path)
			want := cfg
			fs := flag.NewFlagSet("test", flag.ContinueOnError)
			opts := newOptions(fs)
			So(fs.Parse(nil), ShouldBeNil)
			opts.apply(&cfg)
			So(cfg, ShouldResemble, want)
			So(cfg.Interface, ShouldEqual, "can1")
			So(*opts.config, ShouldEqual, "")
		})
	})

	Convey("Without a file the defaults are used", t, func() {
		cfg, err := LoadConfig("")
		So(err, ShouldBeNil)
		So(cfg.Interface, ShouldEqual, "vcan0")
		So(cfg.TickMS, ShouldEqual, 10)
		So(cfg.Validate(), ShouldBeNil)
	})

	Convey("A missing file is an error", t, func() {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		So(err, ShouldNotBeNil)
	})
}

func TestLoadConfigEnvironment(t *testing.T) {
	path := writeConfig(t, configFixture)
	t.Setenv("CAN_ENTRY_IFACE", "vcan3")
	t.Setenv("CAN_ENTRY_TICK_MS", "5")
	t.Setenv("CLICKHOUSE_PASSWORD", "secret")
	t.Setenv("CAN_ENTRY_ISOTP_BLOCK_SIZE", "2")

	Convey("The environment overrides the file", t, func() {
		cfg, err := LoadConfig(path)
		So(err, ShouldBeNil)
		So(cfg.Interface, ShouldEqual, "vcan3")
		So(cfg.TickMS, ShouldEqual, 5)
		So(cfg.ClickHouse.Password, ShouldEqual, "secret")
		So(cfg.ClickHouse.Host, ShouldEqual, "ch.local")
		So(cfg.IsoTp.BlockSize, ShouldEqual, uint8(2))
	})
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		edit func(*Config)
	}{
		{"zero tick", func(c *Config) { c.TickMS = 0 }},
		{"no interface", func(c *Config) { c.Interface = "" }},
		{"bad isotp id", func(c *Config) { c.IsoTp.Enabled = true; c.IsoTp.TxID = "xyz" }},
		{"same isotp ids", func(c *Config) { c.IsoTp.Enabled = true; c.IsoTp.RxID = c.IsoTp.TxID }},
		{"clickhouse without host", func(c *Config) { c.ClickHouse.Enabled = true; c.ClickHouse.Host = "" }},
		{"influxdb without database", func(c *Config) { c.InfluxDB.Enabled = true }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.edit(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}

	cfg := DefaultConfig()
	cfg.Interface = ""
	cfg.Simulated = true
	if err := cfg.Validate(); err != nil {
		t.Errorf("simulated bus needs no interface: %v", err)
	}
}
