// *Telaio* runs graph-structured real-time pipelines: you describe a graph
// of `Extension` instances and how their messages wire together, and the
// `Engine` hosts it.
//
// ## How it works
//
// A `GraphSpec` declares *nodes* (extension instances, each built by a
// registered *addon* factory) and *connections* (which messages of which
// node flow to which others). Every node belongs to an *extension group*,
// and each group gets one dedicated goroutine pinned to an OS thread.
//
// Each of those goroutines drives a `Runloop`: a cooperative FIFO task
// queue that is the *only* legal way to interact with state owned by
// another goroutine. Extension callbacks, lifecycle transitions and message
// deliveries are all tasks on the owning group's loop, so extension code is
// single-threaded by construction and never needs a lock.
//
// The `Engine` itself follows the same rule: it owns its own loop, and
// group threads report back to it by posting tasks. Creation walks every
// extension through `Configure` → `Init` → `Start`; once *every* group has
// reported in, the engine resolves the declared wiring into an immutable
// routing snapshot, hands it to each group, and the data plane opens.
// Teardown is the mirror image, `Stop` → `Deinit`, triggered exactly once
// no matter how many times `Engine.Close` is called.
//
// ## Design Principles
//
// > `telaio` is **single-writer**, **loud on bugs**, and **minimalist**.
//
// ### Single-Writer
//
// Shared-memory concurrency is where real-time pipelines go to die. Every
// mutable structure here has exactly one owning goroutine, enforced at
// runtime by cheap ownership guards. Messages cross goroutines only inside
// posted tasks, and the router hands each destination its own clone, so a
// handler can read its message without wondering who else holds it.
//
// ### Loud On Bugs
//
// APIs return errors for *environmental* failures (bad graph, stopped
// loop, unknown addon). Ownership violations, double lifecycle
// completions and leaked extensions are *programmer* errors: those abort
// the process immediately rather than corrupt a running pipeline. If you
// really need the guards off in production, `WithoutIntegrityChecks` exists.
//
// ### Minimalist
//
// The runtime is a scheduling and routing core, nothing more. Codecs,
// transports and process supervision live outside it (see `pkg/wire` for a
// QUIC portal between engines). Logging goes through `log/slog` with a
// handler you inject, metrics through [`hashicorp/go-metrics`][dep-met]
// with a sink you inject.
//
// [dep-met]: https://pkg.go.dev/github.com/hashicorp/go-metrics
package telaio
