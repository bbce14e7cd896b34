// Package logging provides structured logging for trilat.
//
// Logger wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Local output (stdout or stderr) plus optional OpenTelemetry
//   - Context field injection (trace_id, request.id, project.id, operation)
//   - Per-level sampling (errors never sampled)
//
// Create a logger from application config:
//
//	cfg, err := logging.FromAppConfig(appCfg.Logging, true)
//	if err != nil {
//	    return err
//	}
//	logger, err := logging.NewLogger(cfg, nil)
//	defer logger.Sync()
//
// Log with context:
//
//	ctx = logging.WithProjectID(ctx, p.ID)
//	logger.Info(ctx, "project saved", zap.Int("points", n))
//
// Domain packages take a plain *zap.Logger; hand them Underlying(). OrNop
// guards optional *Logger parameters.
//
// Tests use NewTestLogger, which records entries for assertions:
//
//	tl := logging.NewTestLogger()
//	store, _ := project.NewStore(backend, project.Options{Logger: tl.Underlying()})
//	tl.AssertLogged(t, zapcore.ErrorLevel, "corrupted")
package logging
