package simulator

import (
	"context"
	"fmt"
	"time"
)

// defaultReportInterval is used when influxdb.report_interval is unset.
const defaultReportInterval = 10 * time.Second

// statsPayload is published on the MQTT stats topic.
type statsPayload struct {
	Instance   string            `json:"instance"`
	Server     string            `json:"server"`
	Total      uint64            `json:"total"`
	Requests   map[string]uint64 `json:"requests"`
	Exceptions map[string]uint64 `json:"exceptions,omitempty"`
	Timestamp  string            `json:"timestamp"`
}

// reportStats writes the request counters every report interval until ctx
// is cancelled.
func (s *Simulator) reportStats(ctx context.Context) {
	interval := time.Duration(s.cfg.InfluxDB.ReportInterval) * time.Second
	if interval <= 0 {
		interval = defaultReportInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeStats()
		}
	}
}

// writeStats pushes the current counters to InfluxDB and MQTT. Counters
// are cumulative for the run.
func (s *Simulator) writeStats() {
	stats := s.handler.Stats()

	if s.influx != nil {
		for fc, n := range stats.Requests {
			s.influx.WriteRequestCounts(s.server, fc, n, stats.Exceptions[fc])
		}
	}

	if s.mqtt != nil && s.mqtt.IsConnected() {
		p := statsPayload{
			Instance:   s.instance,
			Server:     s.server,
			Total:      stats.Total(),
			Requests:   make(map[string]uint64, len(stats.Requests)),
			Exceptions: make(map[string]uint64, len(stats.Exceptions)),
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
		}
		for fc, n := range stats.Requests {
			p.Requests[functionName(fc)] = n
		}
		for fc, n := range stats.Exceptions {
			p.Exceptions[functionName(fc)] = n
		}
		if err := s.mqtt.PublishJSON(s.mqtt.Topics().Stats(), p); err != nil {
			s.logger.Warn("publishing stats to MQTT failed", "error", err)
		}
	}
}

func functionName(fc byte) string {
	return fmt.Sprintf("0x%02X", fc)
}
