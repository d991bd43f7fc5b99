package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/marketlens/gateway/internal/config"
	apperrors "github.com/marketlens/gateway/internal/errors"
	"github.com/marketlens/gateway/internal/metrics"
	"github.com/marketlens/gateway/internal/service"
)

type activeUserLister interface {
	ActiveUsers(ctx context.Context) ([]string, error)
}

type userProcessor interface {
	ProcessUser(ctx context.Context, userID string, limit int) (int, error)
}

// QueueConsumerJob sweeps every user with pending jobs on a cron schedule.
// A sweep that is still running when the next tick fires causes that tick
// to be skipped.
type QueueConsumerJob struct {
	queue     activeUserLister
	consumer  userProcessor
	batchSize int
	cron      *cron.Cron
}

func NewQueueConsumerJob(queue *service.RequestQueue, consumer *service.QueueConsumer, schedule string, batchSize int) (*QueueConsumerJob, error) {
	return newQueueConsumerJob(queue, consumer, schedule, batchSize)
}

func newQueueConsumerJob(queue activeUserLister, consumer userProcessor, schedule string, batchSize int) (*QueueConsumerJob, error) {
	logger := cronLogger{log.With().Str("job", "queue-consumer").Logger()}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	j := &QueueConsumerJob{
		queue:     queue,
		consumer:  consumer,
		batchSize: batchSize,
		cron:      c,
	}
	if _, err := c.AddFunc(schedule, j.tick); err != nil {
		return nil, fmt.Errorf("parse consumer schedule %q: %w", schedule, err)
	}
	return j, nil
}

func (j *QueueConsumerJob) Start() {
	j.cron.Start()
	log.Info().Int("batchSize", j.batchSize).Msg("queue consumer job started")
}

// Stop prevents new sweeps and waits for a running one up to ctx's deadline.
func (j *QueueConsumerJob) Stop(ctx context.Context) {
	select {
	case <-j.cron.Stop().Done():
		log.Info().Msg("queue consumer job stopped")
	case <-ctx.Done():
		log.Warn().Msg("queue consumer job stop timed out with a sweep in flight")
	}
}

func (j *QueueConsumerJob) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), config.ConsumerRunTimeout)
	defer cancel()
	j.Sweep(ctx)
}

// Sweep processes one batch for every active user and returns how many jobs
// reached a terminal status.
func (j *QueueConsumerJob) Sweep(ctx context.Context) int {
	users, err := j.queue.ActiveUsers(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list active queue users")
		return 0
	}
	metrics.RecordSweep(len(users))
	if len(users) == 0 {
		return 0
	}

	total := 0
	for _, userID := range users {
		if ctx.Err() != nil {
			break
		}
		n, err := j.consumer.ProcessUser(ctx, userID, j.batchSize)
		total += n
		if err == nil {
			continue
		}
		if apperrors.HasCode(err, apperrors.ErrCodeBackendMisconfigured) {
			// Same outcome for every user; jobs stay pending until fixed.
			log.Error().Err(err).Int("activeUsers", len(users)).Msg("queue sweep skipped: backend is not configured")
			return total
		}
		log.Error().Err(err).Str("userId", userID).Int("processed", n).Msg("queue sweep failed for user")
	}

	log.Debug().Int("activeUsers", len(users)).Int("processed", total).Msg("queue sweep finished")
	return total
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
