// Package periodic runs a function on an interval with optional jitter.
//
//	runner := periodic.NewRunner("dunning", periodic.Every(time.Hour),
//		periodic.WithJitter(5*time.Minute))
//	err := runner.Run(ctx, scheduler.Pass)
package periodic
