package metrics

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// TrackedSource reports the live tracked pids per service.
type TrackedSource interface {
	TrackedPIDs() map[string][]int
}

// Usage is the summed resource use of one service's tracked set.
type Usage struct {
	Service    string
	Processes  int
	CPUPercent float64
	RSSBytes   uint64
	NumThreads int32
}

// ResourceConfig configures periodic sampling of tracked processes.
type ResourceConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// ResourceCollector samples CPU and memory of every tracked process with
// gopsutil and exports per-service sums.
type ResourceCollector struct {
	interval time.Duration
	log      *slog.Logger

	mu    sync.Mutex
	procs map[int]*process.Process // kept between samples so CPUPercent has a baseline
	last  map[string]Usage

	cpu     *prometheus.GaugeVec
	rss     *prometheus.GaugeVec
	threads *prometheus.GaugeVec
}

func NewResourceCollector(cfg ResourceConfig, log *slog.Logger) *ResourceCollector {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &ResourceCollector{
		interval: interval,
		log:      log,
		procs:    make(map[int]*process.Process),
		last:     make(map[string]Usage),
		cpu:      serviceGauge("cpu_percent", "Summed CPU usage of the tracked processes."),
		rss:      serviceGauge("memory_rss_bytes", "Summed resident memory of the tracked processes."),
		threads:  serviceGauge("threads", "Summed thread count of the tracked processes."),
	}
}

func serviceGauge(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, []string{"name"})
}

// Register registers the resource gauges, ignoring duplicates.
func (c *ResourceCollector) Register(r prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{c.cpu, c.rss, c.threads} {
		if err := r.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Run samples src every interval until ctx ends.
func (c *ResourceCollector) Run(ctx context.Context, src TrackedSource) {
	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		c.Collect(ctx, src.TrackedPIDs())
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Collect takes one sample. Processes that cannot be read are skipped.
func (c *ResourceCollector) Collect(ctx context.Context, tracked map[string][]int) map[string]Usage {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[int]struct{})
	out := make(map[string]Usage, len(tracked))
	for name, pids := range tracked {
		u := Usage{Service: name}
		for _, pid := range pids {
			p := c.procs[pid]
			if p == nil {
				var err error
				p, err = process.NewProcessWithContext(ctx, int32(pid))
				if err != nil {
					continue
				}
				c.procs[pid] = p
			}
			seen[pid] = struct{}{}
			mem, err := p.MemoryInfoWithContext(ctx)
			if err != nil {
				c.log.Debug("resource sample failed", "service", name, "pid", pid, "error", err)
				continue
			}
			u.Processes++
			u.RSSBytes += mem.RSS
			if cpu, err := p.PercentWithContext(ctx, 0); err == nil {
				u.CPUPercent += cpu
			}
			if n, err := p.NumThreadsWithContext(ctx); err == nil {
				u.NumThreads += n
			}
		}
		out[name] = u
		c.cpu.WithLabelValues(name).Set(u.CPUPercent)
		c.rss.WithLabelValues(name).Set(float64(u.RSSBytes))
		c.threads.WithLabelValues(name).Set(float64(u.NumThreads))
	}
	for pid := range c.procs {
		if _, ok := seen[pid]; !ok {
			delete(c.procs, pid)
		}
	}
	for name := range c.last {
		if _, ok := out[name]; !ok {
			c.cpu.DeleteLabelValues(name)
			c.rss.DeleteLabelValues(name)
			c.threads.DeleteLabelValues(name)
		}
	}
	c.last = out
	return out
}

// Last returns the most recent sample.
func (c *ResourceCollector) Last() map[string]Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Usage, len(c.last))
	for k, v := range c.last {
		out[k] = v
	}
	return out
}
