// Package probe runs startup checks and decides whether the service may
// start.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds a check that sets no timeout of its own.
const DefaultTimeout = 5 * time.Second

// CheckFunc returns nil when the checked dependency is usable.
type CheckFunc func(ctx context.Context) error

// Probe is a single startup check. A failing Critical probe stops startup;
// any other failure is only reported.
type Probe struct {
	Name     string
	Check    CheckFunc
	Critical bool
	Timeout  time.Duration
}

// Result is the outcome of one probe.
type Result struct {
	Probe    Probe
	Error    error
	Duration time.Duration
}

// Passed reports whether the check succeeded.
func (r Result) Passed() bool { return r.Error == nil }

// Run executes all probes concurrently, each under its own timeout, and
// returns the results in probe order.
func Run(ctx context.Context, probes []Probe) []Result {
	results := make([]Result, len(probes))
	var g errgroup.Group
	for i, p := range probes {
		g.Go(func() error {
			timeout := p.Timeout
			if timeout <= 0 {
				timeout = DefaultTimeout
			}
			pctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			err := p.Check(pctx)
			if err == nil && pctx.Err() != nil && ctx.Err() == nil {
				err = fmt.Errorf("timed out after %v", timeout)
			}
			results[i] = Result{Probe: p, Error: err, Duration: time.Since(start)}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// AnalyzeResults logs a summary and joins the errors of failed critical
// probes.
func AnalyzeResults(results []Result) error {
	logger := slog.With("component", "probe")
	var critical []error
	for _, r := range results {
		attrs := []any{"name", r.Probe.Name, "took", r.Duration.Round(time.Millisecond)}
		switch {
		case r.Passed():
			logger.Info("Startup check passed", attrs...)
		case r.Probe.Critical:
			logger.Error("Startup check failed", append(attrs, "error", r.Error)...)
			critical = append(critical, fmt.Errorf("%s: %w", r.Probe.Name, r.Error))
		default:
			logger.Warn("Startup check failed, continuing", append(attrs, "error", r.Error)...)
		}
	}
	return errors.Join(critical...)
}
