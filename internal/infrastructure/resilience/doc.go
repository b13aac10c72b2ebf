/*
Package resilience provides a circuit breaker for process spawning.

# Overview

A breaker counts consecutive failures of the calls made through it. Once the
threshold is reached it opens and refuses calls for a cooldown period, then
lets a single probe through. The breaker never retries a failed call.

# Usage

	spawns := resilience.NewGroup(resilience.Settings{
		Failures: 5,
		Cooldown: 30 * time.Second,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("spawn breaker", zap.String("kind", name),
				zap.Stringer("from", from), zap.Stringer("to", to))
		},
	})

	handle, err := resilience.Do(spawns.Get("python"), func() (*process.Handle, error) {
		return supervisor.Spawn(ctx, spec)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		// refused without spawning
	}

# States

	Closed --[failures]-> Open --[cooldown]-> Half-Open --[probe ok]-> Closed
	                                           |
	                                    [probe failed]
	                                           |
	                                           v
	                                         Open
*/
package resilience
