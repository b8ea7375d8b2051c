package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"
)

// ErrNoEngine is returned when no configured engine can serve a request.
var ErrNoEngine = errors.New("fetch: no engine can serve the request")

// Dispatcher coordinates multi-engine racing with staged escalation.
// It starts the fastest engine first and progressively escalates to heavier
// engines if earlier ones fail or time out.
type Dispatcher struct {
	engines          []Engine
	escalationDelays []time.Duration
	memory           *DomainMemory
}

// NewDispatcher creates a Dispatcher with the given engines and escalation delays.
// engines[i] starts after escalationDelays[i] from the race beginning.
// Missing delays are zero.
func NewDispatcher(engines []Engine, escalationDelays []time.Duration, memory *DomainMemory) *Dispatcher {
	delays := make([]time.Duration, len(engines))
	copy(delays, escalationDelays)
	return &Dispatcher{
		engines:          engines,
		escalationDelays: delays,
		memory:           memory,
	}
}

// Engines returns the engine names in escalation order.
func (d *Dispatcher) Engines() []string {
	names := make([]string, len(d.engines))
	for i, e := range d.engines {
		names[i] = e.Name()
	}
	return names
}

// Dispatch runs the multi-engine race for the given request and returns
// the first successful result. If all engines fail, it returns the last error.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (*Result, error) {
	engines, delays := d.candidates(req)
	if len(engines) == 0 {
		return nil, ErrNoEngine
	}
	domain := extractDomain(req.URL)

	// Check domain memory for a previously successful engine.
	if remembered := d.memory.Get(domain); remembered != "" {
		for _, eng := range engines {
			if eng.Name() != remembered {
				continue
			}
			slog.Debug("domain memory hit", "domain", domain, "engine", remembered)
			result, err := eng.Fetch(ctx, req)
			if err == nil {
				return result, nil
			}
			if ctx.Err() != nil {
				return nil, err
			}
			// Memory entry failed; delete it and fall through to full race.
			slog.Info("domain memory miss (engine failed), running full race",
				"domain", domain, "engine", remembered, "error", err)
			d.memory.Delete(domain)
			break
		}
	}

	return d.race(ctx, req, domain, engines, delays)
}

// candidates filters the engines able to serve req. Delays are rebased so
// the first candidate starts immediately.
func (d *Dispatcher) candidates(req *Request) ([]Engine, []time.Duration) {
	var engines []Engine
	var delays []time.Duration
	for i, e := range d.engines {
		if (req.NeedGeometry && !renders(e)) || (req.SkipRender && renders(e)) {
			continue
		}
		engines = append(engines, e)
		delays = append(delays, d.escalationDelays[i])
	}
	if len(delays) > 0 {
		base := delays[0]
		for i := range delays {
			delays[i] = max(delays[i]-base, 0)
		}
	}
	return engines, delays
}

// race runs engines with staged delays and returns the first success.
func (d *Dispatcher) race(ctx context.Context, req *Request, domain string, engines []Engine, delays []time.Duration) (*Result, error) {
	type raceResult struct {
		result *Result
		err    error
	}

	raceCtx, raceCancel := context.WithCancel(ctx)
	defer raceCancel()

	results := make(chan raceResult, len(engines))
	var wg sync.WaitGroup

	for i, eng := range engines {
		wg.Add(1)
		go func(e Engine, delay time.Duration) {
			defer wg.Done()

			if delay > 0 {
				t := time.NewTimer(delay)
				defer t.Stop()
				select {
				case <-raceCtx.Done():
					return
				case <-t.C:
				}
			}

			// Check if another engine already won.
			select {
			case <-raceCtx.Done():
				return
			default:
			}

			slog.Debug("engine starting", "engine", e.Name(), "url", req.URL)
			result, err := e.Fetch(raceCtx, req)
			if err != nil {
				slog.Debug("engine failed", "engine", e.Name(), "url", req.URL, "error", err)
			}
			results <- raceResult{result: result, err: err}
		}(eng, delays[i])
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var lastErr error
	for rr := range results {
		if rr.err != nil {
			lastErr = rr.err
			continue
		}
		raceCancel()
		slog.Info("engine won race", "engine", rr.result.EngineName, "url", req.URL)
		d.memory.Set(domain, rr.result.EngineName)
		return rr.result, nil
	}

	if lastErr == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lastErr = fmt.Errorf("fetch: all engines failed for %s", req.URL)
	}
	return nil, lastErr
}

// extractDomain parses the hostname from a URL string.
func extractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}
