package service

import (
	"context"
	"time"

	"github.com/mdario971/cactus-flasher/internal/logger"
)

// fleetScanner is the part of the scanner the monitor drives.
type fleetScanner interface {
	ScanAll(ctx context.Context) ([]ScanResult, error)
}

// MonitorService rescans the fleet periodically so the status log keeps
// up with boards going on and off line without a user asking.
type MonitorService struct {
	scanner fleetScanner
	log     *logger.Logger
}

func NewMonitorService(scanner fleetScanner, log *logger.Logger) *MonitorService {
	if log == nil {
		log = logger.Nop()
	}
	return &MonitorService{scanner: scanner, log: log}
}

// Run scans at the given interval until ctx is canceled. A tick that finds the
// previous scan still running is dropped by the ticker.
func (m *MonitorService) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			results, err := m.scanner.ScanAll(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				m.log.Warnw("monitor_scan_failed", "err", err)
				continue
			}
			m.log.Debugw("monitor_scan", "boards", len(results))
		}
	}
}
