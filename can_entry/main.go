package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"can-entry-core/utils"
)

func main() {
	opts := newOptions(flag.CommandLine)
	flag.Parse()

	cfg, err := LoadConfig(*opts.config)
	if err != nil {
		_, _ = os.Stderr.WriteString("ERROR: " + err.Error() + "\n")
		os.Exit(1)
	}
	opts.apply(&cfg)

	// The console owns stdout, so logs only go to the file then.
	log, err := utils.NewFileLogger(cfg.LogFile, cfg.Level(), !*opts.console)
	if err != nil {
		_, _ = os.Stderr.WriteString("ERROR: cannot open " + cfg.LogFile + ": " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := NewRunner(ctx, cfg, log)
	if err != nil {
		log.Critical("Startup failed: %v", err)
		os.Exit(1)
	}
	defer runner.Close()

	if *opts.console {
		done := make(chan error, 1)
		go func() { done <- runner.Run(ctx) }()

		sh := newConsole(ctx, runner.Handler()).Shell()
		sh.Run()
		stop()
		err = <-done
	} else {
		err = runner.Run(ctx)
	}
	if err != nil && err != context.Canceled {
		log.Critical("Run failed: %v", err)
		os.Exit(1)
	}
}

// options are the command line flags. Only flags actually given override the config.
type options struct {
	fs *flag.FlagSet

	config    *string
	console   *bool
	iface     *string
	sim       *bool
	logLevel  *string
	logFile   *string
	tick      *int
	txList    *string
	rxList    *string
	mapping   *string
	autoSend  *bool
	recording *bool
	isoTp     *bool
}

func newOptions(fs *flag.FlagSet) *options {
	return &options{
		fs:        fs,
		config:    fs.String("config", "", "YAML config file"),
		console:   fs.Bool("console", false, "Start the interactive console"),
		iface:     fs.String("iface", "vcan0", "SocketCAN interface name"),
		sim:       fs.Bool("sim", false, "Use the in-memory simulated bus"),
		logLevel:  fs.String("log", "info", "trace|debug|info|warn|error|critical"),
		logFile:   fs.String("logfile", "can_entry.log", "Log file path"),
		tick:      fs.Int("tick", 10, "Worker loop tick in ms"),
		txList:    fs.String("tx", "", "TX list XML to load"),
		rxList:    fs.String("rx", "", "RX list XML to load"),
		mapping:   fs.String("map", "", "Mapping XML to load"),
		autoSend:  fs.Bool("autosend", false, "Enable auto send at startup"),
		recording: fs.Bool("record", false, "Enable recording at startup"),
		isoTp:     fs.Bool("isotp", false, "Enable the ISO-TP link"),
	}
}

// apply copies the flags given on the command line over cfg.
func (o *options) apply(cfg *Config) {
	o.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "iface":
			cfg.Interface = *o.iface
		case "sim":
			cfg.Simulated = *o.sim
		case "log":
			cfg.LogLevel = *o.logLevel
		case "logfile":
			cfg.LogFile = *o.logFile
		case "tick":
			cfg.TickMS = *o.tick
		case "tx":
			cfg.TxList = *o.txList
		case "rx":
			cfg.RxList = *o.rxList
		case "map":
			cfg.Mapping = *o.mapping
		case "autosend":
			cfg.AutoSend = *o.autoSend
		case "record":
			cfg.Recording = *o.recording
		case "isotp":
			cfg.IsoTp.Enabled = *o.isoTp
		}
	})
}
