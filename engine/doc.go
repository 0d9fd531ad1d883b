// Package engine wires the workpool subsystems together and provides the
// caller API for registering work functions, enqueuing items, and waiting
// for their outcome.
//
// The engine package sits above the subsystem packages (item, claim,
// worker, notify, dlq) and below the application. The root workpool
// package defines Config and the sentinel errors used by all of them and
// therefore cannot import them back.
//
// # Building an Engine
//
//	eng, err := engine.New(store,
//	    engine.WithPool("email", 4),
//	    engine.WithPoolConfig("webhooks", claim.Config{Limit: 8, RateLimit: 50}),
//	    engine.WithMiddleware(middleware.Timeout(time.Minute)),
//	    engine.WithRetryPolicy(retry.Policy{
//	        Strategy: retry.NewExponentialWithJitter(time.Second, 0.2),
//	        MaxDelay: 10 * time.Minute,
//	    }),
//	)
//
// # Registering Work
//
//	var SendEmail = item.NewTask("send-email", func(ctx context.Context, in EmailInput) error {
//	    return mailer.Send(ctx, in)
//	}, item.WithPool("email"))
//
//	engine.Register(eng, SendEmail)
//
// # Enqueuing and Waiting
//
//	it, err := engine.Enqueue(ctx, eng, "send-email", EmailInput{To: "user@example.com"})
//	done, err := eng.Await(ctx, it.ID)
//
//	report, err := engine.AwaitResult[Report](ctx, eng, it.ID)
//
// # Options
//
//   - [WithConfig] set the runtime configuration
//   - [WithPool] / [WithPoolConfig] configure a pool's concurrency budget
//   - [WithExtension] register a lifecycle extension
//   - [WithMiddleware] add a middleware to the execution chain
//   - [WithRetryPolicy] set the retry policy
//   - [WithCodec] set the payload codec
//   - [WithTracerProvider] / [WithMeterProvider] set OpenTelemetry providers
//   - [WithDispatch] disable claiming for maintenance-only processes
package engine
