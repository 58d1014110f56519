// Package driver is the in-process time-driven trigger. The orchestration
// core is invocation-driven; this loop is the "platform cron" that
// periodically asks which kinds are due and fires them. Deployments that
// already have an external cron simply do not start it.
package driver

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"scraperd/internal/model"
	"scraperd/internal/orchestrator"
)

type Driver struct {
	orch         *orchestrator.Orchestrator
	pollInterval time.Duration
	stopWg       *sync.WaitGroup
}

func New(orch *orchestrator.Orchestrator, pollInterval time.Duration) *Driver {
	drv := Driver{orch, pollInterval, &sync.WaitGroup{}}
	drv.stopWg.Add(1)
	return &drv
}

// Start polls until ctx is cancelled. Due kinds run concurrently; they are
// independent and must not serialize behind each other.
func (drv *Driver) Start(ctx context.Context) {
	go drv.triggerDueJobs(ctx)
	drv.stopWg.Wait()
}

func (drv *Driver) triggerDueJobs(ctx context.Context) {
	defer drv.stopWg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(drv.pollInterval):
			due, err := drv.orch.Due(ctx, time.Now())
			if err != nil {
				log.WithFields(log.Fields{
					"error": err,
				}).Error("Error finding due jobs")
				continue
			}

			runWg := sync.WaitGroup{}
			for _, kind := range due {
				runWg.Add(1)
				go func(kind model.JobKind) {
					defer runWg.Done()
					drv.runDue(ctx, kind)
				}(kind)
			}
			runWg.Wait()
		}
	}
}

func (drv *Driver) runDue(ctx context.Context, kind model.JobKind) {
	log.WithFields(log.Fields{
		"kind": kind,
	}).Info("Triggering due job")
	_, err := drv.orch.RunNow(ctx, kind)
	if err != nil {
		// A manual run may have claimed the guard between the due check and
		// the trigger; that is not a failure and there is no queueing.
		if errors.Is(err, model.ErrorAlreadyRunning) {
			log.WithFields(log.Fields{
				"kind": kind,
			}).Debug("Skipping due job, already running")
			return
		}
		log.WithFields(log.Fields{
			"error": err,
			"kind":  kind,
		}).Error("Error running due job")
	}
}
