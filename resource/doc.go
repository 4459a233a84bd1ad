// Package resource implements the Controller for limits shared by stores.
//
// The Controller manages three resource types:
//
//   - Mapped memory: Track and limit live segment mappings (non-blocking, fail-fast)
//   - Flush workers: Bound how many segments are synced concurrently
//   - IO: Rate-limit backup and restore streams
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────┐
//	│                        Controller                           │
//	├─────────────────┬─────────────────┬─────────────────────────┤
//	│  Mapped Limit   │  Flush Workers  │  IO Rate Limiter        │
//	│  (fail-fast)    │  (sem)          │  (token bucket)         │
//	├─────────────────┼─────────────────┼─────────────────────────┤
//	│  AcquireMapped  │  AcquireWorker  │  AcquireIO              │
//	│  ReleaseMapped  │  TryAcquire-    │  RateLimitedWriter      │
//	│  MappedUsage    │  Worker         │  RateLimitedReader      │
//	└─────────────────┴─────────────────┴─────────────────────────┘
//
// # Mapped Memory
//
// AcquireMapped is non-blocking and returns ErrMappedLimitExceeded when a
// new segment would push the total above the limit. Several stores can
// share one controller to cap the address space of a whole process:
//
//	rc := resource.NewController(resource.Config{
//	    MappedLimitBytes: 8 << 30,
//	})
//
//	nodes := segmap.New(dir, "nodes", segmap.WithResourceController(rc))
//	edges := segmap.New(dir, "edges", segmap.WithResourceController(rc))
//
// # Flush Workers
//
// Flush syncs dirty segments in parallel, at most MaxFlushWorkers at a time:
//
//	if err := rc.AcquireWorker(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseWorker()
//
// # IO Rate Limiting
//
// Token bucket rate limiter for backup and restore so that they do not
// starve foreground disk and network traffic:
//
//	rc := resource.NewController(resource.Config{
//	    IOLimitBytesPerSec: 100 * 1024 * 1024, // 100MB/s
//	})
//
//	writer := resource.NewRateLimitedWriter(ctx, blob, rc)
//	reader := resource.NewRateLimitedReader(ctx, body, rc)
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully - they become no-ops.
// This allows optional resource limiting without nil checks everywhere.
package resource
