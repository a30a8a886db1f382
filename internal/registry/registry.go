// Package registry owns backend model handles and their lifecycle:
// register, single-flight load, reference-counted acquire, unload.
package registry

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meriley/lingua-nexus-sub001/internal/backend"
	"github.com/meriley/lingua-nexus-sub001/internal/nexuserr"
)

// State is a handle's lifecycle state.
type State string

const (
	StateAbsent    State = "absent"
	StateLoading   State = "loading"
	StateReady     State = "ready"
	StateFailed    State = "failed"
	StateUnloading State = "unloading"
)

// DefaultCooldown is how long a Failed handle stays parked before load
// attempts are allowed again.
const DefaultCooldown = 30 * time.Second

type handle struct {
	desc       backend.Descriptor
	state      State
	translator backend.Translator
	refcount   int
	failedAt   time.Time
}

// Registry is the exclusive owner of model handles. Controllers borrow
// translators through Guards for the duration of one request.
type Registry struct {
	mu       sync.Mutex
	handles  map[string]*handle
	loads    singleflight.Group
	cooldown time.Duration
	logger   *slog.Logger

	// OnModelChanged, when set, is invoked after a successful load or an
	// unload; the cache layer uses it to purge entries for the backend.
	OnModelChanged func(name string)
}

func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handles:  make(map[string]*handle),
		cooldown: DefaultCooldown,
		logger:   logger,
	}
}

// SetCooldown overrides the failure cooldown; intended for tests.
func (r *Registry) SetCooldown(d time.Duration) {
	r.mu.Lock()
	r.cooldown = d
	r.mu.Unlock()
}

// Register records a backend descriptor. The handle stays Absent until
// loaded. Re-registering replaces the descriptor only when nothing is
// loaded under the name.
func (r *Registry) Register(desc backend.Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[desc.Name]; ok && h.state != StateAbsent {
		return nexuserr.New(nexuserr.KindInvalidRequest, "backend %q is %s; unload before re-registering", desc.Name, h.state)
	}
	r.handles[desc.Name] = &handle{desc: desc, state: StateAbsent}
	return nil
}

// Load brings a registered backend to Ready. Concurrent calls for the
// same name share a single load; the backend constructor runs exactly
// once. A failed load parks the handle in Failed for the cooldown
// period, after which it returns to Absent.
func (r *Registry) Load(ctx context.Context, name string) error {
	r.mu.Lock()
	h, ok := r.handles[name]
	if !ok {
		r.mu.Unlock()
		return nexuserr.New(nexuserr.KindModelNotLoaded, "backend %q is not registered", name)
	}
	switch h.state {
	case StateReady:
		r.mu.Unlock()
		return nil
	case StateFailed:
		if time.Since(h.failedAt) < r.cooldown {
			r.mu.Unlock()
			return nexuserr.New(nexuserr.KindModelLoadFailed, "backend %q failed recently; in cooldown", name)
		}
		h.state = StateAbsent
	case StateUnloading:
		r.mu.Unlock()
		return nexuserr.New(nexuserr.KindModelNotLoaded, "backend %q is unloading", name)
	}
	r.mu.Unlock()

	_, err, _ := r.loads.Do(name, func() (any, error) {
		return nil, r.doLoad(ctx, name)
	})
	return err
}

func (r *Registry) doLoad(ctx context.Context, name string) error {
	r.mu.Lock()
	h := r.handles[name]
	if h.state == StateReady {
		r.mu.Unlock()
		return nil
	}
	h.state = StateLoading
	desc := h.desc
	r.mu.Unlock()

	start := time.Now()
	translator, err := desc.New(ctx)

	r.mu.Lock()
	if err != nil {
		h.state = StateFailed
		h.failedAt = time.Now()
		cooldown := r.cooldown
		r.mu.Unlock()

		r.logger.Error("model load failed", "backend", name, "error", err)
		time.AfterFunc(cooldown, func() {
			r.mu.Lock()
			if h.state == StateFailed {
				h.state = StateAbsent
			}
			r.mu.Unlock()
		})
		return nexuserr.Wrapf(nexuserr.KindModelLoadFailed, err, "failed to load backend %q", name)
	}

	h.translator = translator
	h.state = StateReady
	r.mu.Unlock()

	r.logger.Info("model loaded", "backend", name, "elapsed", time.Since(start))
	if r.OnModelChanged != nil {
		r.OnModelChanged(name)
	}
	return nil
}

// Guard is a borrowed reference to a Ready translator. Callers must
// Release it when the request finishes.
type Guard struct {
	reg        *Registry
	name       string
	translator backend.Translator
	once       sync.Once
}

func (g *Guard) Translator() backend.Translator { return g.translator }

func (g *Guard) Name() string { return g.name }

// Release returns the reference. Safe to call more than once.
func (g *Guard) Release() {
	g.once.Do(func() {
		g.reg.mu.Lock()
		if h, ok := g.reg.handles[g.name]; ok && h.refcount > 0 {
			h.refcount--
		}
		g.reg.mu.Unlock()
	})
}

// Acquire borrows a Ready translator, incrementing its refcount. It
// fails for any other state, including Unloading.
func (r *Registry) Acquire(name string) (*Guard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[name]
	if !ok || h.state != StateReady {
		return nil, nexuserr.New(nexuserr.KindModelNotLoaded, "backend %q is not loaded", name)
	}
	h.refcount++
	return &Guard{reg: r, name: name, translator: h.translator}, nil
}

// Unload releases a Ready backend. It is refused while any guard is
// outstanding.
func (r *Registry) Unload(name string) error {
	r.mu.Lock()
	h, ok := r.handles[name]
	if !ok {
		r.mu.Unlock()
		return nexuserr.New(nexuserr.KindModelNotLoaded, "backend %q is not registered", name)
	}
	if h.state != StateReady {
		r.mu.Unlock()
		return nexuserr.New(nexuserr.KindInvalidRequest, "backend %q is %s, not ready", name, h.state)
	}
	if h.refcount > 0 {
		r.mu.Unlock()
		return nexuserr.New(nexuserr.KindInvalidRequest, "backend %q has %d requests in flight", name, h.refcount)
	}
	h.state = StateUnloading
	translator := h.translator
	r.mu.Unlock()

	if closer, ok := translator.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			r.logger.Warn("backend close failed", "backend", name, "error", err)
		}
	}

	r.mu.Lock()
	h.translator = nil
	h.state = StateAbsent
	r.mu.Unlock()

	r.logger.Info("model unloaded", "backend", name)
	if r.OnModelChanged != nil {
		r.OnModelChanged(name)
	}
	return nil
}

// MarkFailed transitions a Ready handle to Failed after a fatal backend
// error; it returns to Absent after the cooldown.
func (r *Registry) MarkFailed(name string) {
	r.mu.Lock()
	h, ok := r.handles[name]
	if !ok || h.state != StateReady {
		r.mu.Unlock()
		return
	}
	h.state = StateFailed
	h.failedAt = time.Now()
	h.translator = nil
	cooldown := r.cooldown
	r.mu.Unlock()

	r.logger.Warn("backend marked failed", "backend", name)
	time.AfterFunc(cooldown, func() {
		r.mu.Lock()
		if h.state == StateFailed {
			h.state = StateAbsent
		}
		r.mu.Unlock()
	})
}

// Health reports the live health of a loaded backend, or Down.
func (r *Registry) Health(ctx context.Context, name string) backend.Health {
	r.mu.Lock()
	h, ok := r.handles[name]
	if !ok || h.state != StateReady || h.translator == nil {
		r.mu.Unlock()
		return backend.Down
	}
	translator := h.translator
	r.mu.Unlock()

	return translator.Health(ctx)
}

// Capabilities returns the declared capabilities of a Ready backend.
func (r *Registry) Capabilities(name string) (backend.Capabilities, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[name]
	if !ok || h.state != StateReady || h.translator == nil {
		return backend.Capabilities{}, nexuserr.New(nexuserr.KindModelNotLoaded, "backend %q is not loaded", name)
	}
	return h.translator.Capabilities(), nil
}

// Descriptor returns the registered descriptor for name.
func (r *Registry) Descriptor(name string) (backend.Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[name]
	if !ok {
		return backend.Descriptor{}, false
	}
	return h.desc, true
}

// Info is one row of List.
type Info struct {
	Name     string       `json:"name"`
	Kind     backend.Kind `json:"kind"`
	State    State        `json:"state"`
	Refcount int          `json:"refcount"`
}

// List returns all registered handles sorted by name.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Info, 0, len(r.handles))
	for name, h := range r.handles {
		out = append(out, Info{Name: name, Kind: h.desc.Kind, State: h.state, Refcount: h.refcount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LoadedNames returns the names of Ready backends, sorted.
func (r *Registry) LoadedNames() []string {
	var names []string
	for _, info := range r.List() {
		if info.State == StateReady {
			names = append(names, info.Name)
		}
	}
	return names
}
