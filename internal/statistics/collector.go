// Package statistics samples CPU and memory usage of running containers.
//
// Sampling is best effort: a missing container or a failed sample leaves
// the record unchanged and is only logged.
package statistics

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"karavan/internal/cache"
	"karavan/internal/containerizer"
	"karavan/internal/events"
	"karavan/internal/status"
	"karavan/pkg/logging"
)

const subsystem = "Statistics"

// Source is the part of containerizer.Runtime the collector needs.
type Source interface {
	FindByName(ctx context.Context, name string) (containerizer.Object, bool, error)
	Stats(ctx context.Context, id string) (containerizer.Usage, error)
}

// Config holds configuration for a Collector.
type Config struct {
	// Environments are sampled by Run.
	Environments []string

	// Interval between sampling rounds. Defaults to 10 seconds.
	Interval time.Duration

	// CallTimeout bounds every runtime call. Defaults to 5 seconds.
	CallTimeout time.Duration

	// Concurrency bounds parallel samples in a round. Defaults to 8.
	Concurrency int
}

// Collector merges usage samples into status records.
type Collector struct {
	config    Config
	source    Source
	store     cache.Store
	publisher events.Publisher
}

// NewCollector creates a Collector.
func NewCollector(config Config, source Source, store cache.Store, publisher events.Publisher) *Collector {
	if config.Interval <= 0 {
		config.Interval = 10 * time.Second
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 5 * time.Second
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 8
	}
	return &Collector{
		config:    config,
		source:    source,
		store:     store,
		publisher: publisher,
	}
}

// Collect returns a copy of rec carrying a fresh usage sample. When the
// container is absent or sampling fails, rec is returned unchanged.
func (c *Collector) Collect(ctx context.Context, rec status.ContainerStatus) status.ContainerStatus {
	findCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	obj, ok, err := c.source.FindByName(findCtx, rec.ContainerName)
	cancel()
	if err != nil {
		logging.Warn(subsystem, "Lookup of %s failed: %v", rec.ContainerName, err)
		return rec
	}
	if !ok {
		logging.Debug(subsystem, "Container %s not found, keeping %s as is", rec.ContainerName, rec.Key())
		return rec
	}

	statsCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	usage, err := c.source.Stats(statsCtx, obj.ID)
	cancel()
	if err != nil {
		logging.Warn(subsystem, "Sampling %s failed: %v", rec.ContainerName, err)
		return rec
	}

	updated := rec.Copy()
	updated.MemoryInfo = usage.MemoryInfo()
	updated.CPUInfo = usage.CPUInfo()
	return updated
}

// Run samples every running cached record on each interval until ctx is
// done.
func (c *Collector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	logging.Info(subsystem, "Sampling %v every %v", c.config.Environments, c.config.Interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.CollectAll(ctx)
		}
	}
}

// CollectAll runs one sampling round and publishes statistics-updated for
// every record whose usage changed. It returns the number of published
// events.
func (c *Collector) CollectAll(ctx context.Context) int {
	var records []status.ContainerStatus
	for _, env := range c.config.Environments {
		recs, err := c.store.List(ctx, cache.Filter{Env: env})
		if err != nil {
			logging.Warn(subsystem, "Failed to list records of %s: %v", env, err)
			continue
		}
		for _, rec := range recs {
			if rec.State == status.StateRunning && rec.ContainerID != "" {
				records = append(records, rec)
			}
		}
	}

	published := make([]bool, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Concurrency)
	for i, rec := range records {
		i, rec := i, rec
		g.Go(func() error {
			updated := c.Collect(gctx, rec)
			if updated.MemoryInfo == rec.MemoryInfo && updated.CPUInfo == rec.CPUInfo {
				return nil
			}
			if err := events.PublishRecord(gctx, c.publisher, events.TopicStatisticsUpdated, updated); err != nil {
				logging.Warn(subsystem, "Failed to publish statistics of %s: %v", rec.Key(), err)
				return nil
			}
			published[i] = true
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, p := range published {
		if p {
			n++
		}
	}
	return n
}
