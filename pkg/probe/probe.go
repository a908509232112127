package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultTimeout bounds a probe that sets no Timeout of its own.
const DefaultTimeout = 5 * time.Second

// CheckFunc performs one health check and returns nil when it passes.
type CheckFunc func(ctx context.Context) error

// Probe represents a single startup or health check.
type Probe struct {
	Name     string
	Check    CheckFunc
	Critical bool // failure prevents startup and marks /health degraded
	Timeout  time.Duration
}

// Result holds the outcome of a single probe.
type Result struct {
	Probe    Probe
	Error    error
	Duration time.Duration
}

// Status is the JSON form of a Result.
type Status struct {
	Name       string `json:"name"`
	OK         bool   `json:"ok"`
	Critical   bool   `json:"critical"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Run executes the probes in order and returns their results.
func Run(ctx context.Context, probes []Probe) []Result {
	results := make([]Result, len(probes))

	for i, p := range probes {
		timeout := p.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		start := time.Now()
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		err := p.Check(checkCtx)
		cancel()

		results[i] = Result{
			Probe:    p,
			Error:    err,
			Duration: time.Since(start),
		}
	}

	return results
}

// Healthy reports whether no critical probe failed.
func Healthy(results []Result) bool {
	for _, r := range results {
		if r.Error != nil && r.Probe.Critical {
			return false
		}
	}
	return true
}

// Statuses converts results for JSON output.
func Statuses(results []Result) []Status {
	out := make([]Status, len(results))
	for i, r := range results {
		out[i] = Status{
			Name:       r.Probe.Name,
			OK:         r.Error == nil,
			Critical:   r.Probe.Critical,
			DurationMs: r.Duration.Milliseconds(),
		}
		if r.Error != nil {
			out[i].Error = r.Error.Error()
		}
	}
	return out
}

// AnalyzeResults logs a summary and returns the joined errors of failed critical probes.
func AnalyzeResults(results []Result) error {
	var criticalErrors []error

	slog.Info("Startup Checks Summary")

	for _, r := range results {
		status := "PASS"
		if r.Error != nil {
			status = "FAIL"
		}

		msg := fmt.Sprintf("[%s] %-20s (%v)", status, r.Probe.Name, r.Duration.Round(time.Millisecond))

		if r.Error != nil {
			slog.Error(msg, "error", r.Error)
			if r.Probe.Critical {
				criticalErrors = append(criticalErrors, fmt.Errorf("%s: %w", r.Probe.Name, r.Error))
			}
		} else {
			slog.Info(msg)
		}
	}

	return errors.Join(criticalErrors...)
}
