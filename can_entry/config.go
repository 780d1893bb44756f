package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v2"

	"can-entry-core/isotp"
	"can-entry-core/sink/clickhouse"
	"can-entry-core/sink/influxdb"
	"can-entry-core/utils"
)

type IsoTpConfig struct {
	Enabled    bool   `yaml:"enabled" env:"CAN_ENTRY_ISOTP"`
	TxID       string `yaml:"tx_id" env:"CAN_ENTRY_ISOTP_TX_ID"`
	RxID       string `yaml:"rx_id" env:"CAN_ENTRY_ISOTP_RX_ID"`
	BlockSize  uint8  `yaml:"block_size" env:"CAN_ENTRY_ISOTP_BLOCK_SIZE"`
	StMin      uint8  `yaml:"st_min" env:"CAN_ENTRY_ISOTP_ST_MIN"`
	Padding    bool   `yaml:"padding" env:"CAN_ENTRY_ISOTP_PADDING"`
	TimeoutMS  int    `yaml:"timeout_ms" env:"CAN_ENTRY_ISOTP_TIMEOUT_MS"`
	WaitFrames int    `yaml:"max_wait_frames" env:"CAN_ENTRY_ISOTP_MAX_WAIT"`
}

type ClickHouseConfig struct {
	Enabled   bool   `yaml:"enabled" env:"CAN_ENTRY_CLICKHOUSE"`
	Host      string `yaml:"host" env:"CLICKHOUSE_HOST"`
	Port      int    `yaml:"port" env:"CLICKHOUSE_PORT"`
	Database  string `yaml:"database" env:"CLICKHOUSE_DATABASE"`
	Username  string `yaml:"username" env:"CLICKHOUSE_USERNAME"`
	Password  string `yaml:"password" env:"CLICKHOUSE_PASSWORD"`
	Table     string `yaml:"table" env:"CLICKHOUSE_TABLE"`
	BatchSize int    `yaml:"batch_size" env:"CLICKHOUSE_BATCH_SIZE"`
}

type InfluxDBConfig struct {
	Enabled     bool   `yaml:"enabled" env:"CAN_ENTRY_INFLUXDB"`
	URL         string `yaml:"url" env:"INFLUXDB_URL"`
	Token       string `yaml:"token" env:"INFLUXDB_TOKEN"`
	Database    string `yaml:"database" env:"INFLUXDB_DATABASE"`
	Measurement string `yaml:"measurement" env:"INFLUXDB_MEASUREMENT"`
	BatchSize   int    `yaml:"batch_size" env:"INFLUXDB_BATCH_SIZE"`
}

// Config is read from YAML, then overridden from the environment, then from flags.
type Config struct {
	Interface string `yaml:"interface" env:"CAN_ENTRY_IFACE"`
	Simulated bool   `yaml:"simulated" env:"CAN_ENTRY_SIM"`
	LogFile   string `yaml:"log_file" env:"CAN_ENTRY_LOG_FILE"`
	LogLevel  string `yaml:"log_level" env:"CAN_ENTRY_LOG_LEVEL"`
	TickMS    int    `yaml:"tick_ms" env:"CAN_ENTRY_TICK_MS"`

	AutoSend       bool  `yaml:"auto_send" env:"CAN_ENTRY_AUTO_SEND"`
	Recording      bool  `yaml:"recording" env:"CAN_ENTRY_RECORDING"`
	RecordingLevel uint8 `yaml:"recording_level" env:"CAN_ENTRY_RECORDING_LEVEL"`

	TxList  string `yaml:"tx_list" env:"CAN_ENTRY_TX_LIST"`
	RxList  string `yaml:"rx_list" env:"CAN_ENTRY_RX_LIST"`
	Mapping string `yaml:"mapping" env:"CAN_ENTRY_MAPPING"`

	IsoTp      IsoTpConfig      `yaml:"isotp"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
}

func DefaultConfig() Config {
	return Config{
		Interface:      "vcan0",
		LogFile:        "can_entry.log",
		LogLevel:       "info",
		TickMS:         10,
		RecordingLevel: 1,
		IsoTp: IsoTpConfig{
			TxID:       "7E0",
			RxID:       "7E8",
			TimeoutMS:  1000,
			WaitFrames: 10,
		},
		ClickHouse: ClickHouseConfig{
			Host:     "localhost",
			Port:     9000,
			Database: "default",
			Username: "default",
			Table:    "can_recording",
		},
		InfluxDB: InfluxDBConfig{
			URL:         "http://localhost:8181",
			Measurement: "can_recording",
		},
	}
}

// LoadConfig starts from the defaults, applies path when it is set and then the environment.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	for _, v := range []any{&cfg, &cfg.IsoTp, &cfg.ClickHouse, &cfg.InfluxDB} {
		if err := env.Parse(v); err != nil {
			return cfg, fmt.Errorf("environment: %w", err)
		}
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if !c.Simulated && c.Interface == "" {
		errs = append(errs, errors.New("interface is required unless simulated"))
	}
	if c.TickMS <= 0 {
		errs = append(errs, fmt.Errorf("tick_ms must be positive, got %d", c.TickMS))
	}
	if c.IsoTp.Enabled {
		if _, err := c.IsoTpLink(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.ClickHouse.Enabled && (c.ClickHouse.Host == "" || c.ClickHouse.Port <= 0) {
		errs = append(errs, errors.New("clickhouse: host and port are required"))
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Database == "") {
		errs = append(errs, errors.New("influxdb: url and database are required"))
	}
	return errors.Join(errs...)
}

func (c Config) Level() utils.LogLevel { return utils.ParseLevel(c.LogLevel) }

func (c Config) TickInterval() time.Duration { return time.Duration(c.TickMS) * time.Millisecond }

// IsoTpLink converts the file settings into a link configuration.
func (c Config) IsoTpLink() (isotp.Config, error) {
	lc := isotp.DefaultConfig()
	tx, err := utils.ParseFrameID(c.IsoTp.TxID)
	if err != nil {
		return lc, fmt.Errorf("isotp tx_id: %w", err)
	}
	rx, err := utils.ParseFrameID(c.IsoTp.RxID)
	if err != nil {
		return lc, fmt.Errorf("isotp rx_id: %w", err)
	}
	lc.TxID, lc.RxID = tx, rx
	lc.BlockSize = c.IsoTp.BlockSize
	lc.StMin = c.IsoTp.StMin
	lc.Padding = c.IsoTp.Padding
	if c.IsoTp.TimeoutMS > 0 {
		lc.TimeoutFC = time.Duration(c.IsoTp.TimeoutMS) * time.Millisecond
		lc.TimeoutCF = lc.TimeoutFC
	}
	lc.MaxWaitFrames = c.IsoTp.WaitFrames
	return lc, lc.Validate()
}

func (c Config) ClickHouseSink() clickhouse.Config {
	return clickhouse.Config{
		Host:      c.ClickHouse.Host,
		Port:      c.ClickHouse.Port,
		Database:  c.ClickHouse.Database,
		Username:  c.ClickHouse.Username,
		Password:  c.ClickHouse.Password,
		Table:     c.ClickHouse.Table,
		BatchSize: c.ClickHouse.BatchSize,
	}
}

func (c Config) InfluxDBSink() influxdb.Config {
	return influxdb.Config{
		URL:         c.InfluxDB.URL,
		Token:       c.InfluxDB.Token,
		Database:    c.InfluxDB.Database,
		Measurement: c.InfluxDB.Measurement,
		BatchSize:   c.InfluxDB.BatchSize,
	}
}
