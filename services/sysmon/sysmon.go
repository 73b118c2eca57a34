// Package sysmon hosts the host-telemetry sampler component.
package sysmon

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/soloplane/soloplane/internal/logging"
	"github.com/soloplane/soloplane/lifecycle"
)

// Kind identifies the sysmon component slot.
const Kind lifecycle.Kind = "sysmon"

// Config configures the sampler.
type Config struct {
	Interval time.Duration
}

// DefaultConfig returns a 15s sampling interval.
func DefaultConfig() Config {
	return Config{Interval: 15 * time.Second}
}

// Service samples host CPU, memory and load into Prometheus gauges. The
// sampler goroutine only starts in the deferred start phase and stops on
// release.
type Service struct {
	cfg Config
	log *logging.Logger
	reg prometheus.Registerer

	cpuPercent prometheus.Gauge
	memUsed    prometheus.Gauge
	memPercent prometheus.Gauge
	load1      prometheus.Gauge

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var (
	_ lifecycle.Singleton     = (*Service)(nil)
	_ lifecycle.ConstructHook = (*Service)(nil)
	_ lifecycle.StartHook     = (*Service)(nil)
	_ lifecycle.ReleaseHook   = (*Service)(nil)
)

// New creates the sysmon component. Gauges register against reg.
func New(cfg Config, reg prometheus.Registerer, log *logging.Logger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Service{
		cfg:    cfg,
		log:    log.WithField("component", string(Kind)),
		reg:    reg,
		stopCh: make(chan struct{}),
	}
}

// Kind implements lifecycle.Singleton.
func (s *Service) Kind() lifecycle.Kind { return Kind }

// AfterConstruct registers the gauges.
func (s *Service) AfterConstruct(ctx context.Context) error {
	opts := func(name, help string) prometheus.GaugeOpts {
		return prometheus.GaugeOpts{Namespace: "soloplane", Subsystem: "host", Name: name, Help: help}
	}
	s.cpuPercent = prometheus.NewGauge(opts("cpu_percent", "Host CPU utilization percentage."))
	s.memUsed = prometheus.NewGauge(opts("memory_used_bytes", "Host memory in use."))
	s.memPercent = prometheus.NewGauge(opts("memory_percent", "Host memory utilization percentage."))
	s.load1 = prometheus.NewGauge(opts("load1", "Host 1-minute load average."))

	for _, g := range []prometheus.Gauge{s.cpuPercent, s.memUsed, s.memPercent, s.load1} {
		if err := s.reg.Register(g); err != nil {
			return err
		}
	}
	return nil
}

// AfterStart launches the sampling loop.
func (s *Service) AfterStart(ctx context.Context) error {
	s.wg.Add(1)
	go s.loop()
	s.log.Info("host sampler running", "interval", s.cfg.Interval)
	return nil
}

// OnReleased stops the sampler and waits for it to exit.
func (s *Service) OnReleased() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Service) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.sample()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Service) sample() {
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		s.cpuPercent.Set(percents[0])
	} else if err != nil {
		s.log.Debug("cpu sample failed", "error", err)
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		s.memUsed.Set(float64(vm.Used))
		s.memPercent.Set(vm.UsedPercent)
	} else {
		s.log.Debug("memory sample failed", "error", err)
	}

	if avg, err := load.Avg(); err == nil {
		s.load1.Set(avg.Load1)
	} else {
		s.log.Debug("load sample failed", "error", err)
	}
}
