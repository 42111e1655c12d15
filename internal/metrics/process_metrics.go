package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Sample is one running process's resource usage at scrape time.
type Sample struct {
	Name        string
	PID         int
	MemoryBytes uint64
	CPUPercent  float64
	UptimeSecs  uint64
}

// ResourceCollector reports resource usage of managed processes. It samples
// lazily on every scrape instead of polling on a timer.
type ResourceCollector struct {
	source func() []Sample

	memory *prometheus.Desc
	cpu    *prometheus.Desc
	uptime *prometheus.Desc
}

func NewResourceCollector(source func() []Sample) *ResourceCollector {
	labels := []string{"name", "pid"}
	return &ResourceCollector{
		source: source,
		memory: prometheus.NewDesc("zapm_process_resident_memory_bytes", "Resident set size of a managed process.", labels, nil),
		cpu:    prometheus.NewDesc("zapm_process_cpu_percent", "CPU usage of a managed process in percent.", labels, nil),
		uptime: prometheus.NewDesc("zapm_process_uptime_seconds", "Seconds since the managed process was created.", labels, nil),
	}
}

func (c *ResourceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.memory
	ch <- c.cpu
	ch <- c.uptime
}

func (c *ResourceCollector) Collect(ch chan<- prometheus.Metric) {
	if c.source == nil {
		return
	}
	for _, s := range c.source() {
		pid := strconv.Itoa(s.PID)
		ch <- prometheus.MustNewConstMetric(c.memory, prometheus.GaugeValue, float64(s.MemoryBytes), s.Name, pid)
		ch <- prometheus.MustNewConstMetric(c.cpu, prometheus.GaugeValue, s.CPUPercent, s.Name, pid)
		ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, float64(s.UptimeSecs), s.Name, pid)
	}
}
