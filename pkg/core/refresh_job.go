package core

import (
	"context"
	"log/slog"

	"roamgo/pkg/model"
)

// RefreshJob re-fetches nearby places when the user has moved far enough
// since the last result.
type RefreshJob struct {
	BaseJob
	o *Orchestrator
}

func NewRefreshJob(o *Orchestrator) *RefreshJob {
	return &RefreshJob{BaseJob: NewBaseJob("Refresh"), o: o}
}

func (j *RefreshJob) ShouldFire(st *model.LocationState) bool {
	if j.Running() || st.Coordinate == nil {
		return false
	}
	select {
	case <-j.o.Ready():
	default:
		return false
	}
	return j.o.ShouldRefresh(*st.Coordinate)
}

func (j *RefreshJob) Run(ctx context.Context, _ *model.LocationState) {
	if !j.TryLock() {
		return
	}
	defer j.Unlock()

	res, err := j.o.NearbyPlaces(ctx, false)
	if err != nil {
		slog.Debug("RefreshJob: skipped", "error", err)
		return
	}
	slog.Debug("RefreshJob: refreshed", "places", len(res.Places), "source", res.Source)
}
