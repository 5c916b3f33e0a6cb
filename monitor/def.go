package monitor

import (
	"AnpdServer/logger"
	"context"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

var (
	Registry = prometheus.NewRegistry()

	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})

	InferenceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "anpd_inference_total",
		Help: "Number of detect calls by source",
	}, []string{"source"})
	InferenceSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "anpd_inference_seconds",
		Help:    "Detect latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
	})
	UploadErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "anpd_upload_errors_total",
		Help: "Uploads that could not be processed",
	})
	CameraStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "anpd_camera_streams_active",
		Help: "Camera streams currently running",
	})
)

func init() {
	Registry.MustRegister(
		memUsage, cpuUsage,
		InferenceTotal, InferenceSeconds, UploadErrors, CameraStreams,
		collectors.NewGoCollector(),
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// ObserveInference records one detect call.
func ObserveInference(source string, d time.Duration) {
	if source == "" {
		source = "unknown"
	}
	InferenceTotal.WithLabelValues(source).Inc()
	InferenceSeconds.Observe(d.Seconds())
}

func checkProcessInfo(p *process.Process) {
	if memInfo, err := p.MemoryInfo(); err == nil {
		memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpuPercent, err := p.CPUPercent(); err == nil {
		cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

// StartMon 定时采样本进程的内存与 CPU，直到 ctx 结束
func StartMon(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Log().Warn("process monitor disabled", zap.Error(err))
		return
	}
	checkProcessInfo(p)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkProcessInfo(p)
		}
	}
}
