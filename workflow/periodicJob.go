package workflow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

// PeriodicJob runs Task every Interval until the context ends. A pass that
// fails or panics is logged and the next tick runs as usual. With a redis
// lock available only one replica runs a pass at a time.
type PeriodicJob struct {
	Name     string
	Logger   *logrus.Logger
	RunnerID string

	Interval time.Duration
	LockTTL  time.Duration
	// RunAtStart runs the first pass immediately instead of after Interval.
	RunAtStart bool

	Task func(ctx context.Context) error
}

func NewPeriodicJob(name string, logger *logrus.Logger, interval time.Duration, task func(ctx context.Context) error) *PeriodicJob {
	return &PeriodicJob{
		Name:     name,
		Logger:   logger,
		RunnerID: uuid.NewString(),
		Interval: interval,
		LockTTL:  interval,
		Task:     task,
	}
}

func (j *PeriodicJob) lockKey() string {
	return "stocktake:job:" + j.Name
}

func (j *PeriodicJob) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	if j.RunAtStart {
		j.RunOnce(ctx)
	}
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce runs a single pass and returns its error after logging it.
func (j *PeriodicJob) RunOnce(ctx context.Context) (err error) {
	started := time.Now()
	fields := logrus.Fields{"job": j.Name, "runner_id": j.RunnerID}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.Name, r)
			j.Logger.WithFields(fields).WithField("stack", string(debug.Stack())).Error(err.Error())
		}
	}()

	err = utils.WithLock(ctx, j.lockKey(), j.LockTTL, j.Task)
	if errors.Is(err, utils.ErrLockNotObtained) {
		j.Logger.WithFields(fields).Debug("job pass skipped, another runner holds the lock")
		return nil
	}
	if err != nil {
		j.Logger.WithFields(fields).Errorf("job pass failed: %v", err)
		return err
	}
	j.Logger.WithFields(fields).WithField("took", time.Since(started).String()).Debug("job pass finished")
	return nil
}
