package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"can-entry-core/device"
	"can-entry-core/entry"
	"can-entry-core/loader"
	"can-entry-core/sink"
	"can-entry-core/sink/clickhouse"
	"can-entry-core/sink/influxdb"
	"can-entry-core/utils"
)

// Runner is the composition root: device, handler, loaders and sinks.
type Runner struct {
	cfg     Config
	log     *utils.Logger
	handler *entry.Handler

	socket *device.SocketCAN
	bus    *device.Loopback
	peer   *simPeer

	closers []io.Closer
}

func NewRunner(ctx context.Context, cfg Config, log *utils.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	r := &Runner{cfg: cfg, log: log}

	var dev device.Device
	if cfg.Simulated {
		r.bus = device.NewLoopback()
		dev = r.bus.Open()
		log.Info("Simulated bus enabled")
	} else {
		sc, err := device.DialSocketCAN(ctx, cfg.Interface, log)
		if err != nil {
			return nil, err
		}
		r.socket = sc
		dev = sc
	}

	opts := entry.Options{
		Log:           log,
		TickInterval:  cfg.TickInterval(),
		TxLoader:      loader.TxXML{},
		RxLoader:      loader.RxXML{},
		MappingLoader: loader.MappingXML{},
	}
	if cfg.IsoTp.Enabled {
		lc, err := cfg.IsoTpLink()
		if err != nil {
			r.Close()
			return nil, err
		}
		opts.IsoTp = &lc
	}

	sinks, err := r.openSinks(ctx)
	if err != nil {
		r.Close()
		return nil, err
	}
	switch len(sinks) {
	case 0:
	case 1:
		opts.Sink = sinks[0]
	default:
		opts.Sink = sinks
	}

	h, err := entry.NewHandler(device.NewTraced(dev, log), opts)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.handler = h

	if r.bus != nil {
		r.peer, err = newSimPeer(r.bus.Open(), opts.IsoTp, log)
		if err != nil {
			r.Close()
			return nil, err
		}
	}

	if err := r.loadFiles(); err != nil {
		r.Close()
		return nil, err
	}

	h.SetRecordingLogLevel(cfg.RecordingLevel)
	h.ToggleRecording(cfg.Recording, false)
	h.ToggleAutoSend(cfg.AutoSend)
	return r, nil
}

func (r *Runner) openSinks(ctx context.Context) (sink.Multi, error) {
	var sinks sink.Multi
	if r.cfg.ClickHouse.Enabled {
		w, err := clickhouse.New(ctx, r.cfg.ClickHouseSink(), r.log)
		if err != nil {
			return nil, err
		}
		r.log.Info("Recording mirrored to ClickHouse %s:%d", r.cfg.ClickHouse.Host, r.cfg.ClickHouse.Port)
		r.closers = append(r.closers, w)
		sinks = append(sinks, w)
	}
	if r.cfg.InfluxDB.Enabled {
		w, err := influxdb.New(ctx, r.cfg.InfluxDBSink(), r.log)
		if err != nil {
			return nil, err
		}
		r.log.Info("Recording mirrored to InfluxDB %s", r.cfg.InfluxDB.URL)
		r.closers = append(r.closers, w)
		sinks = append(sinks, w)
	}
	return sinks, nil
}

func (r *Runner) loadFiles() error {
	if r.cfg.Mapping != "" {
		if err := r.handler.LoadMapping(r.cfg.Mapping); err != nil {
			return fmt.Errorf("load mapping: %w", err)
		}
		r.log.Info("Loaded mapping for %d frames from %s", len(r.handler.MappedFrames()), r.cfg.Mapping)
	}
	if r.cfg.TxList != "" {
		if err := r.handler.LoadTxList(r.cfg.TxList); err != nil {
			return fmt.Errorf("load tx list: %w", err)
		}
		r.log.Info("Loaded %d TX entries from %s", len(r.handler.TxEntries()), r.cfg.TxList)
	}
	if r.cfg.RxList != "" {
		if err := r.handler.LoadRxList(r.cfg.RxList); err != nil {
			return fmt.Errorf("load rx list: %w", err)
		}
		r.log.Info("Loaded %d RX list entries from %s", len(r.handler.RxList()), r.cfg.RxList)
	}
	return nil
}

func (r *Runner) Handler() *entry.Handler { return r.handler }

// Run drives the worker loop and the receive side until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("Starting: iface=%s sim=%v tick=%s isotp=%v",
		r.cfg.Interface, r.cfg.Simulated, r.cfg.TickInterval(), r.cfg.IsoTp.Enabled)

	var (
		wg    sync.WaitGroup
		rxErr error
	)
	if r.socket != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rxErr = r.socket.Run(ctx)
		}()
	}
	if r.peer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.peer.Run(ctx, r.cfg.TickInterval())
		}()
	}
	if r.cfg.IsoTp.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.isoTpLoop(ctx)
		}()
	}

	err := r.handler.Run(ctx)
	wg.Wait()
	r.log.Info("Completed. frames_sent=%d frames_received=%d", r.handler.TxFrameCount(), r.handler.RxFrameCount())
	return errors.Join(err, rxErr)
}

func (r *Runner) isoTpLoop(ctx context.Context) {
	msgs, errs := r.handler.IsoTpMessages(), r.handler.IsoTpErrors()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-msgs:
			r.log.Info("ISO-TP message received [%d] %s", len(msg), utils.FormatHexBytes(msg))
		case err := <-errs:
			r.log.Error("ISO-TP: %v", err)
		}
	}
}

func (r *Runner) Close() {
	for _, c := range r.closers {
		_ = c.Close()
	}
	if r.socket != nil {
		_ = r.socket.Close()
	}
	if r.bus != nil {
		_ = r.bus.Close()
	}
}
