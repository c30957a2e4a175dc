// Package kobj implements an embeddable capability kernel: dispatchers,
// handles, the signal/wait primitive, and futexes, with the system-call
// surface exposed as methods on per-process caller contexts.
package kobj

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ehrlich-b/go-kobj/internal/constants"
	"github.com/ehrlich-b/go-kobj/internal/cprng"
	"github.com/ehrlich-b/go-kobj/internal/dispatcher"
	"github.com/ehrlich-b/go-kobj/internal/logging"
	"github.com/ehrlich-b/go-kobj/internal/object"
	"github.com/ehrlich-b/go-kobj/internal/task"
)

// Logger is the optional message sink accepted in Options.
type Logger interface {
	Printf(format string, args ...any)
}

// Params contains construction parameters for a kernel instance
type Params struct {
	// ArenaCapacity bounds live handles system-wide (0 = default)
	ArenaCapacity int

	// LogRingRecords sizes the kernel log ring (0 = default)
	LogRingRecords int

	// DefaultBadHandlePolicy is inherited by new processes
	DefaultBadHandlePolicy BadHandlePolicy
}

// DefaultParams returns default kernel parameters
func DefaultParams() Params {
	return Params{
		ArenaCapacity:          constants.HandleArenaCapacity,
		LogRingRecords:         constants.LogRingRecords,
		DefaultBadHandlePolicy: PolicyIgnore,
	}
}

// Options contains additional options for kernel creation
type Options struct {
	// Context for shutdown propagation (if nil, uses context.Background())
	Context context.Context

	// Logger for debug/info messages (if nil, no logging)
	Logger Logger

	// Observer for metrics collection (if nil, uses the built-in metrics)
	Observer Observer
}

// Kernel owns the process-wide singletons: the handle arena, the process
// list, the system exception port, the log ring, and the CPRNG.
type Kernel struct {
	arena    *object.Arena
	rng      *cprng.Source
	logBuf   *dispatcher.LogBuffer
	system   task.ExceptionScope
	rootRes  *dispatcher.Resource
	metrics  *Metrics
	observer Observer
	logger   Logger
	params   Params

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	procs    map[uint64]*Proc
	shutdown bool
}

// New creates a kernel instance. This is the explicit init point for the
// global mutable state; Shutdown is its inverse.
func New(params Params, options *Options) (*Kernel, error) {
	if options == nil {
		options = &Options{}
	}
	ctx := options.Context
	if ctx == nil {
		ctx = context.Background()
	}

	rng, err := cprng.New()
	if err != nil {
		return nil, WrapError("kernel_new", 0, err)
	}

	metrics := NewMetrics()
	var observer Observer = NewMetricsObserver(metrics)
	if options.Observer != nil {
		observer = options.Observer
	}

	k := &Kernel{
		arena:    object.NewArena(params.ArenaCapacity),
		rng:      rng,
		logBuf:   dispatcher.NewLogBuffer(params.LogRingRecords),
		rootRes:  dispatcher.NewRootResource(),
		metrics:  metrics,
		observer: observer,
		logger:   options.Logger,
		params:   params,
		procs:    make(map[uint64]*Proc),
	}
	k.ctx, k.cancel = context.WithCancel(ctx)

	logging.Info("kernel initialized", "arena_capacity", k.arena.Capacity())
	return k, nil
}

// CreateProcess creates a process in INITIAL and returns its caller
// context. The process receives a handle to itself in its own table.
func (k *Kernel) CreateProcess(name string) (*Proc, error) {
	k.mu.Lock()
	if k.shutdown {
		k.mu.Unlock()
		return nil, NewError("process_create", ErrBadState, "kernel shutting down")
	}
	k.mu.Unlock()

	secret, err := k.rng.Uint32()
	if err != nil {
		return nil, WrapError("process_create", 0, err)
	}
	p, err := task.NewProcess(k.arena, name, secret, &k.system, k.onProcessDead)
	if err != nil {
		return nil, WrapError("process_create", 0, err)
	}
	if err := p.SetBadHandlePolicy(k.params.DefaultBadHandlePolicy); err != nil {
		return nil, WrapError("process_create", 0, err)
	}

	pr := &Proc{k: k, p: p}
	if pr.self, err = pr.addHandle("process_create", p, object.DefaultRights(TypeProcess)); err != nil {
		return nil, err
	}

	k.mu.Lock()
	k.procs[p.Koid()] = pr
	k.mu.Unlock()

	k.metrics.ProcessesCreated.Add(1)
	if k.logger != nil {
		k.logger.Printf("process created: %s (koid %d)", name, p.Koid())
	}
	return pr, nil
}

func (k *Kernel) onProcessDead(p *task.Process) {
	k.mu.Lock()
	delete(k.procs, p.Koid())
	k.mu.Unlock()
	k.metrics.ProcessesDead.Add(1)
}

// Process returns the caller context for a live process koid.
func (k *Kernel) Process(koid uint64) (*Proc, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	pr, ok := k.procs[koid]
	return pr, ok
}

// ProcessCount returns the number of live processes.
func (k *Kernel) ProcessCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.procs)
}

// ArenaLiveCount reports the number of live arena handles, for diagnostics.
func (k *Kernel) ArenaLiveCount() int { return k.arena.LiveCount() }

// Metrics returns the kernel's metrics instance.
func (k *Kernel) Metrics() *Metrics { return k.metrics }

// MetricsSnapshot returns a point-in-time snapshot of kernel metrics.
func (k *Kernel) MetricsSnapshot() MetricsSnapshot { return k.metrics.Snapshot() }

// RootResource returns the root of the resource hierarchy.
func (k *Kernel) RootResource() *dispatcher.Resource { return k.rootRes }

// CurrentTime returns the kernel clock in nanoseconds.
func (k *Kernel) CurrentTime() int64 { return time.Now().UnixNano() }

// CprngDraw fills buf from the kernel CPRNG.
func (k *Kernel) CprngDraw(buf []byte) error {
	if err := k.rng.Draw(buf); err != nil {
		if cprng.ErrDrawTooLarge(err) {
			return NewError("cprng_draw", ErrInvalidArgs, "draw too large")
		}
		return WrapError("cprng_draw", 0, err)
	}
	return nil
}

// CprngAddEntropy mixes caller entropy into the CPRNG.
func (k *Kernel) CprngAddEntropy(buf []byte) error {
	if err := k.rng.AddEntropy(buf); err != nil {
		if cprng.ErrDrawTooLarge(err) {
			return NewError("cprng_add_entropy", ErrInvalidArgs, "entropy too large")
		}
		return WrapError("cprng_add_entropy", 0, err)
	}
	return nil
}

// Shutdown kills every process and tears the kernel down. It waits up to
// the drain timeout for thread goroutines to observe their cancellation.
func (k *Kernel) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	k.mu.Lock()
	if k.shutdown {
		k.mu.Unlock()
		return nil
	}
	k.shutdown = true
	procs := make([]*Proc, 0, len(k.procs))
	for _, pr := range k.procs {
		procs = append(procs, pr)
	}
	k.mu.Unlock()

	k.cancel()
	k.metrics.Stop()

	g, _ := errgroup.WithContext(ctx)
	for _, pr := range procs {
		pr := pr
		g.Go(func() error {
			pr.p.Kill()
			deadline := time.After(constants.ShutdownDrainTimeout)
			for pr.p.State() != ProcessDead {
				select {
				case <-deadline:
					return NewError("kernel_shutdown", ErrTimedOut, "process did not die")
				case <-ctx.Done():
					return NewError("kernel_shutdown", ErrInterrupted, "shutdown interrupted")
				case <-time.After(time.Millisecond):
				}
			}
			return nil
		})
	}
	err := g.Wait()
	logging.Info("kernel shut down", "live_handles", k.arena.LiveCount())
	return err
}
