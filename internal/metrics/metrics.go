// Package metrics exposes process and broker health over two channels:
// host resource usage (via gopsutil, sampled on demand for logging and
// diagnostics) and a Prometheus /metrics endpoint reporting broker load.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"go.vereda.tec.br/escriba/internal/mdp"
)

// statsTimeout bounds how long a scrape will wait for the broker's run
// loop to answer a Stats request.
const statsTimeout = 2 * time.Second

// HostStats is a snapshot of host resource utilization. Percent fields
// are 0-100.
type HostStats struct {
	CPUPercent  float64
	MemPercent  float64
	DiskPercent float64
}

// Collect samples current host resource usage. CPU percent is requested
// with a zero interval (see cpu.PercentWithContext), so it is computed
// against the CPU times seen by the previous call, i.e. averaged since
// the last sample rather than measured over a fresh window.
func Collect(ctx context.Context) (HostStats, error) {
	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return HostStats{}, fmt.Errorf("metrics: cpu: %w", err)
	}
	var cpuPercent float64
	if len(cpuPercents) > 0 {
		cpuPercent = cpuPercents[0]
	}

	vmem, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return HostStats{}, fmt.Errorf("metrics: mem: %w", err)
	}

	du, err := disk.UsageWithContext(ctx, "/")
	if err != nil {
		return HostStats{}, fmt.Errorf("metrics: disk: %w", err)
	}

	return HostStats{
		CPUPercent:  cpuPercent,
		MemPercent:  vmem.UsedPercent,
		DiskPercent: du.UsedPercent,
	}, nil
}

// brokerCollector adapts a *mdp.Broker's Stats() snapshot to the
// Prometheus collector interface, so broker load is scraped on demand
// rather than pushed through a separate update path.
type brokerCollector struct {
	broker *mdp.Broker

	services    *prometheus.Desc
	workers     *prometheus.Desc
	idleWorkers *prometheus.Desc
	queued      *prometheus.Desc
}

// NewBrokerCollector returns a prometheus.Collector reporting broker's
// live Stats() on every scrape.
func NewBrokerCollector(broker *mdp.Broker) prometheus.Collector {
	return &brokerCollector{
		broker: broker,
		services: prometheus.NewDesc(
			"escriba_broker_services", "Number of distinct services known to the broker.", nil, nil),
		workers: prometheus.NewDesc(
			"escriba_broker_workers", "Number of workers currently registered with the broker.", nil, nil),
		idleWorkers: prometheus.NewDesc(
			"escriba_broker_idle_workers", "Number of workers currently idle and waiting for work.", nil, nil),
		queued: prometheus.NewDesc(
			"escriba_broker_queued_requests", "Number of requests queued for a service.", []string{"service"}, nil),
	}
}

func (c *brokerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.services
	ch <- c.workers
	ch <- c.idleWorkers
	ch <- c.queued
}

func (c *brokerCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()

	stats, err := c.broker.Stats(ctx)
	if err != nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.services, prometheus.GaugeValue, float64(stats.Services))
	ch <- prometheus.MustNewConstMetric(c.workers, prometheus.GaugeValue, float64(stats.Workers))
	ch <- prometheus.MustNewConstMetric(c.idleWorkers, prometheus.GaugeValue, float64(stats.IdleWorkers))
	for service, n := range stats.QueuedByService {
		ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(n), service)
	}
}

// Handler registers broker as a Prometheus collector on a fresh registry
// (alongside the default Go/process collectors) and returns the
// resulting /metrics HTTP handler.
func Handler(broker *mdp.Broker) http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(NewBrokerCollector(broker))
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
