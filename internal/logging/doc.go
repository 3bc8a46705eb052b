// Package logging provides structured logging for issuepilot.
//
// # Overview
//
// Logging package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - Automatic context field injection (issue, event type, dispatch token)
//   - Console or JSON output selected by config
//
// # Usage
//
// Create logger from config:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
// Log with context:
//
//	ctx := logging.WithIssue(ctx, 42)
//	ctx = logging.WithEventType(ctx, "execute_worker")
//	logger.Info(ctx, "worker dispatched", zap.Int("worker_id", 3))
//
// Output includes automatic correlation:
//
//	{
//	  "ts": "2026-08-28T10:15:30Z",
//	  "level": "info",
//	  "msg": "worker dispatched",
//	  "issue": 42,
//	  "event.type": "execute_worker",
//	  "worker_id": 3
//	}
package logging
