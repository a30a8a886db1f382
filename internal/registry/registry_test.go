package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meriley/lingua-nexus-sub001/internal/backend"
	"github.com/meriley/lingua-nexus-sub001/internal/nexuserr"
)

func mockDescriptor(name string, loads *atomic.Int32, loadErr error, delay time.Duration) backend.Descriptor {
	return backend.Descriptor{
		Name: name,
		Kind: backend.KindMock,
		New: func(ctx context.Context) (backend.Translator, error) {
			if loads != nil {
				loads.Add(1)
			}
			if delay > 0 {
				time.Sleep(delay)
			}
			if loadErr != nil {
				return nil, loadErr
			}
			m := backend.NewMockTranslator()
			m.NameVal = name
			return m, nil
		},
	}
}

func TestRegistry_LoadAndAcquire(t *testing.T) {
	r := New(nil)
	if err := r.Register(mockDescriptor("m1", nil, nil, 0)); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := r.Acquire("m1"); !nexuserr.Is(err, nexuserr.KindModelNotLoaded) {
		t.Fatalf("acquire before load should fail with model_not_loaded, got %v", err)
	}

	if err := r.Load(context.Background(), "m1"); err != nil {
		t.Fatalf("load: %v", err)
	}

	g, err := r.Acquire("m1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if g.Translator().Name() != "m1" {
		t.Errorf("unexpected translator %q", g.Translator().Name())
	}
	g.Release()
	g.Release() // double release must be harmless

	infos := r.List()
	if len(infos) != 1 || infos[0].State != StateReady || infos[0].Refcount != 0 {
		t.Errorf("unexpected list state: %+v", infos)
	}
}

func TestRegistry_SingleFlightLoad(t *testing.T) {
	r := New(nil)
	var loads atomic.Int32
	if err := r.Register(mockDescriptor("m1", &loads, nil, 50*time.Millisecond)); err != nil {
		t.Fatalf("register: %v", err)
	}

	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.Load(context.Background(), "m1")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: %v", i, err)
		}
	}
	if got := loads.Load(); got != 1 {
		t.Errorf("backend constructor ran %d times, want 1", got)
	}
}

func TestRegistry_FailedLoadCooldown(t *testing.T) {
	r := New(nil)
	r.SetCooldown(50 * time.Millisecond)
	loadErr := nexuserr.New(nexuserr.KindBackendFatal, "boom")
	var loads atomic.Int32
	if err := r.Register(mockDescriptor("m1", &loads, loadErr, 0)); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := r.Load(context.Background(), "m1"); !nexuserr.Is(err, nexuserr.KindModelLoadFailed) {
		t.Fatalf("expected model_load_failed, got %v", err)
	}

	// Within cooldown: refused without touching the backend.
	if err := r.Load(context.Background(), "m1"); !nexuserr.Is(err, nexuserr.KindModelLoadFailed) {
		t.Fatalf("expected cooldown refusal, got %v", err)
	}
	if got := loads.Load(); got != 1 {
		t.Errorf("backend constructor ran %d times during cooldown, want 1", got)
	}

	// After cooldown the handle returns to Absent and a retry is allowed.
	time.Sleep(80 * time.Millisecond)
	_ = r.Load(context.Background(), "m1")
	if got := loads.Load(); got != 2 {
		t.Errorf("backend constructor ran %d times after cooldown, want 2", got)
	}
}

func TestRegistry_UnloadRefusedWhileAcquired(t *testing.T) {
	r := New(nil)
	if err := r.Register(mockDescriptor("m1", nil, nil, 0)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Load(context.Background(), "m1"); err != nil {
		t.Fatalf("load: %v", err)
	}

	g, err := r.Acquire("m1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if err := r.Unload("m1"); err == nil {
		t.Fatal("unload with outstanding guard should fail")
	}

	g.Release()
	if err := r.Unload("m1"); err != nil {
		t.Fatalf("unload after release: %v", err)
	}

	if _, err := r.Acquire("m1"); !nexuserr.Is(err, nexuserr.KindModelNotLoaded) {
		t.Errorf("acquire after unload should fail, got %v", err)
	}
}

func TestRegistry_OnModelChanged(t *testing.T) {
	r := New(nil)
	var changed []string
	var mu sync.Mutex
	r.OnModelChanged = func(name string) {
		mu.Lock()
		changed = append(changed, name)
		mu.Unlock()
	}

	if err := r.Register(mockDescriptor("m1", nil, nil, 0)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Load(context.Background(), "m1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := r.Unload("m1"); err != nil {
		t.Fatalf("unload: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changed) != 2 {
		t.Errorf("expected 2 change notifications, got %v", changed)
	}
}

func TestRegistry_LoadUnknownBackend(t *testing.T) {
	r := New(nil)
	if err := r.Load(context.Background(), "nope"); !nexuserr.Is(err, nexuserr.KindModelNotLoaded) {
		t.Errorf("expected model_not_loaded, got %v", err)
	}
}
