package core

import (
	"context"
	"sync/atomic"
	"time"

	"roamgo/pkg/model"
)

// Job defines a scheduled task evaluated against the location state.
type Job interface {
	Name() string
	ShouldFire(st *model.LocationState) bool
	Run(ctx context.Context, st *model.LocationState)
}

// BaseJob provides atomic running state to prevent re-entry.
type BaseJob struct {
	name    string
	running atomic.Bool
}

func NewBaseJob(name string) BaseJob {
	return BaseJob{name: name}
}

func (b *BaseJob) Name() string {
	return b.name
}

// TryLock marks the job running. Returns false if it already was.
func (b *BaseJob) TryLock() bool {
	return b.running.CompareAndSwap(false, true)
}

func (b *BaseJob) Unlock() {
	b.running.Store(false)
}

// Running reports whether Run is in progress.
func (b *BaseJob) Running() bool {
	return b.running.Load()
}

// TimeJob fires when time elapsed exceeds threshold.
type TimeJob struct {
	BaseJob
	lastTime  time.Time
	threshold time.Duration
	action    func(context.Context, model.LocationState)
	firstRun  bool
}

func NewTimeJob(name string, threshold time.Duration, action func(context.Context, model.LocationState)) *TimeJob {
	return &TimeJob{
		BaseJob:   NewBaseJob(name),
		threshold: threshold,
		action:    action,
		firstRun:  true,
	}
}

func (j *TimeJob) ShouldFire(_ *model.LocationState) bool {
	if j.Running() {
		return false
	}
	if j.firstRun {
		return true
	}
	return time.Since(j.lastTime) >= j.threshold
}

func (j *TimeJob) Run(ctx context.Context, st *model.LocationState) {
	if !j.TryLock() {
		return
	}
	defer j.Unlock()

	j.lastTime = time.Now()
	j.firstRun = false

	j.action(ctx, st.Clone())
}
