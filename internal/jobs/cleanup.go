package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketlens/gateway/internal/kv"
)

const cleanupRunTimeout = 30 * time.Second

// CleanupJob periodically purges expired KV entries from stores that do not
// evict them on their own.
type CleanupJob struct {
	store    kv.Expirer
	name     string
	interval time.Duration
	done     chan struct{}
}

func NewCleanupJob(name string, store kv.Expirer, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		store:    store,
		name:     name,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Str("store", j.name).Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Str("store", j.name).Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupRunTimeout)
	defer cancel()

	count, err := j.store.DeleteExpired(ctx)
	if err != nil {
		log.Error().Err(err).Str("store", j.name).Msg("failed to purge expired entries")
	} else if count > 0 {
		log.Info().Int64("count", count).Str("store", j.name).Msg("purged expired entries")
	}
}
