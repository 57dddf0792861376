/*
Package resilience guards calls to external tools and transports with a
circuit breaker.

A platform that shells out to a device bridge, or a send path that keeps
failing, should stop hammering the dependency and report the outage once
instead of on every poll.

	Closed --[Threshold consecutive failures]-> Open
	Open   --[Cooldown elapsed]---------------> HalfOpen
	HalfOpen --[Probes successes]-------------> Closed
	HalfOpen --[any failure]------------------> Open

Usage:

	b := resilience.New("adb", resilience.Settings{
		Threshold: 3,
		Cooldown:  30 * time.Second,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Breaker changed state", zap.Stringer("to", to))
		},
	})
	err := b.Do(func() error { return runner.Run(ctx, "devices") })

Errors from a rejected call wrap ErrCircuitOpen.
*/
package resilience
