// Package manager selects, loads, shares and evicts models across providers
// within the host memory budget. It is structured into small files by
// concern:
//
//   - manager.go: Manager type, constructor, Init/Shutdown lifecycle.
//   - config.go: Config and package defaults.
//   - types.go: Handle, AcquireRequest and internal entry state.
//   - errors.go: error types and helpers (IsInsufficientResources, ...).
//   - acquire.go: candidate walk, budget check and load with placeholders.
//   - evict.go: eviction planning and EvictAll.
//   - ops.go: Release, Infer and WithModel scoped acquisition.
//   - status_report.go: Status reporting.
//   - lru_persist.go: last-used and observed-memory metadata across restarts.
//   - metrics.go: Prometheus collectors.
//
// The budget check, eviction plan and placeholder registration happen under
// one lock; provider Load and Unload calls run outside it. Concurrent
// acquisitions of the same model wait on the placeholder instead of loading
// twice.
package manager
