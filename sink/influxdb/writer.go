package influxdb

import (
	"context"
	"fmt"

	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"

	"can-entry-core/entry"
	"can-entry-core/sink"
	"can-entry-core/utils"
)

type Config struct {
	URL         string
	Token       string
	Database    string
	Measurement string
	BatchSize   int
}

// Writer mirrors recorded frames into an InfluxDB 3 database.
type Writer struct {
	*sink.Batcher
	client      *influxdb3.Client
	measurement string
}

func New(ctx context.Context, cfg Config, log *utils.Logger) (*Writer, error) {
	if cfg.Measurement == "" {
		cfg.Measurement = "can_recording"
	}
	client, err := influxdb3.New(influxdb3.ClientConfig{
		Host:     cfg.URL,
		Token:    cfg.Token,
		Database: cfg.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create InfluxDB client: %w", err)
	}

	w := &Writer{client: client, measurement: cfg.Measurement}
	w.Batcher = sink.NewBatcher("influxdb", cfg.BatchSize, sink.DefaultFlushInterval, w.insert, log)
	w.Batcher.Start(ctx)
	return w, nil
}

func tags(e entry.LogEntry) map[string]string {
	return map[string]string{
		"direction": e.Direction.String(),
		"can_id":    fmt.Sprintf("0x%X", e.FrameID),
	}
}

// fields carries the payload both as hex text and byte by byte.
func fields(e entry.LogEntry) map[string]any {
	f := map[string]any{
		"can_id_decimal": int64(e.FrameID),
		"dlc":            int64(len(e.Data)),
		"data":           utils.FormatHexBytes(e.Data),
	}
	for i, b := range e.Data {
		f[fmt.Sprintf("data_%d", i)] = int64(b)
	}
	return f
}

func (w *Writer) insert(ctx context.Context, entries []entry.LogEntry) error {
	points := make([]*influxdb3.Point, 0, len(entries))
	for _, e := range entries {
		points = append(points, influxdb3.NewPoint(w.measurement, tags(e), fields(e), e.Timestamp))
	}
	if err := w.client.WritePoints(ctx, points); err != nil {
		return fmt.Errorf("failed to write points: %w", err)
	}
	return nil
}

func (w *Writer) Close() error {
	_ = w.Batcher.Close()
	return w.client.Close()
}
