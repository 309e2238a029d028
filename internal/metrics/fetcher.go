package metrics

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	// lookback is the aggregation window for CPU and memory series.
	lookback = "30d"

	// dataMount is the fixed mount point probed for the disk gauge.
	dataMount = "/data"

	// queryTimeout bounds each individual series query.
	queryTimeout = 15 * time.Second
)

// cpuBaseQuery is the instantaneous CPU usage expression for one VM.
func cpuBaseQuery(ip string) string {
	return fmt.Sprintf(`100 - (avg(rate(node_cpu_seconds_total{instance=~"%s:.*",mode="idle"}[5m])) * 100)`, ip)
}

// memoryBaseQuery is the instantaneous memory usage expression for one VM.
func memoryBaseQuery(ip string) string {
	return fmt.Sprintf(`(1 - (node_memory_MemAvailable_bytes{instance=~"%s:.*"} / node_memory_MemTotal_bytes{instance=~"%s:.*"})) * 100`, ip, ip)
}

// storageQuery is the current used percentage of the data mount for one VM.
func storageQuery(ip string) string {
	return fmt.Sprintf(`100 - ((node_filesystem_avail_bytes{instance=~"%s:.*",mountpoint="%s"} * 100) / node_filesystem_size_bytes{instance=~"%s:.*",mountpoint="%s"})`, ip, dataMount, ip, dataMount)
}

// Fetcher retrieves metrics bundles per VM address from the querier,
// tolerating partial failure per address and per series.
type Fetcher struct {
	querier Querier
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewFetcher creates a metrics fetcher over the given querier.
func NewFetcher(querier Querier, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		querier: querier,
		logger:  logger,
		timeout: queryTimeout,
		now:     time.Now,
	}
}

// FetchBulk retrieves one bundle per address. Empty or duplicate addresses
// are skipped; an empty input returns an empty set without touching the
// querier. Per-address failures never abort sibling queries.
func (f *Fetcher) FetchBulk(ctx context.Context, ips []string) Set {
	set := make(Set, len(ips))
	for _, ip := range ips {
		if ip == "" {
			continue
		}
		if _, done := set[ip]; done {
			continue
		}
		set[ip] = f.fetchOne(ctx, ip)
	}
	return set
}

// fetchOne queries the seven series for one VM. Any failing series degrades
// to nil; the bundle is stamped only when at least one value came back.
func (f *Fetcher) fetchOne(ctx context.Context, ip string) Bundle {
	var bundle Bundle

	cpuBase := cpuBaseQuery(ip)
	bundle.CPU.Peak = f.query(ctx, ip, fmt.Sprintf("max_over_time((%s)[%s:])", cpuBase, lookback))
	bundle.CPU.Avg = f.query(ctx, ip, fmt.Sprintf("avg_over_time((%s)[%s:])", cpuBase, lookback))
	bundle.CPU.Low = f.query(ctx, ip, fmt.Sprintf("min_over_time((%s)[%s:])", cpuBase, lookback))

	memBase := memoryBaseQuery(ip)
	bundle.Memory.Peak = f.query(ctx, ip, fmt.Sprintf("max_over_time((%s)[%s:])", memBase, lookback))
	bundle.Memory.Avg = f.query(ctx, ip, fmt.Sprintf("avg_over_time((%s)[%s:])", memBase, lookback))
	bundle.Memory.Low = f.query(ctx, ip, fmt.Sprintf("min_over_time((%s)[%s:])", memBase, lookback))

	bundle.Storage.DataMount = f.query(ctx, ip, storageQuery(ip))

	if anyValue(bundle) {
		stamp := f.now().UTC().Format(time.RFC3339)
		bundle.LastUpdated = &stamp
	}
	return bundle
}

func (f *Fetcher) query(ctx context.Context, ip, query string) *float64 {
	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	value, err := f.querier.Query(callCtx, query)
	if err != nil {
		f.logger.Debug("Metrics query failed",
			zap.String("ip", ip),
			zap.Error(err))
		return nil
	}
	return value
}

func anyValue(b Bundle) bool {
	for _, v := range []*float64{
		b.CPU.Peak, b.CPU.Avg, b.CPU.Low,
		b.Memory.Peak, b.Memory.Avg, b.Memory.Low,
		b.Storage.DataMount,
	} {
		if v != nil {
			return true
		}
	}
	return false
}
