// Package httpserver runs an http.Handler with configured timeouts and a
// graceful shutdown tied to a context, and provides the health probe the
// billing daemon mounts at /healthz.
//
// Run blocks until ctx is canceled or the listener fails. Shutdown drains
// in-flight requests within ShutdownTimeout:
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	err := srv.Run(ctx, router)
//
// Listen failures are wrapped with ErrStart and shutdown failures with
// ErrShutdown.
package httpserver
