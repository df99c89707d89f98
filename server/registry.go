// registry.go - Model-Registry mit versioniertem Hot-Swap
//
// Die Registry haelt pro Model-Name einen Loader und eine Menge
// geladener Versionen, sowie einen atomar veroeffentlichten Zeiger auf
// die aktive Version. Lookup liest diesen Zeiger atomar, die
// Versions-Map jedoch unter einem Read-Lock und wartet daher, solange
// Laden oder Entladen die Map gerade schreibt. Laden, Entladen und
// Version-Wechsel fuer denselben Model-Namen sind gegeneinander
// serialisiert, damit zwei konkurrierende set_active_version-Aufrufe
// nicht gegenseitig ihre Wirkung verlieren.
package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

type modelState struct {
	// serialize guards load/unload/set-active for this model name.
	serialize sync.Mutex

	loader LoaderFunc

	mu       sync.RWMutex
	versions map[string]*LoadedModel
	active   atomic.Pointer[string]
}

// ModelRegistry tracks every loaded model and its versions.
type ModelRegistry struct {
	mu     sync.RWMutex
	models map[string]*modelState
}

// NewModelRegistry constructs an empty registry.
func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{models: make(map[string]*modelState)}
}

func (r *ModelRegistry) stateFor(name string, createIfMissing bool) *modelState {
	r.mu.RLock()
	st, ok := r.models[name]
	r.mu.RUnlock()
	if ok || !createIfMissing {
		return st
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok = r.models[name]; ok {
		return st
	}
	st = &modelState{versions: make(map[string]*LoadedModel)}
	r.models[name] = st
	return st
}

// RegisterLoader associates name with a LoaderFunc. If replace is
// false and a loader is already registered, ErrLoaderExists is
// returned.
func (r *ModelRegistry) RegisterLoader(name string, loader LoaderFunc, replace bool) error {
	st := r.stateFor(name, true)

	st.serialize.Lock()
	defer st.serialize.Unlock()

	if st.loader != nil && !replace {
		return ErrLoaderExists
	}
	st.loader = loader
	return nil
}

// Load materializes cfg.Name/cfg.Version via the registered loader,
// runs a warm-up generation of cfg.WarmupTokens tokens if requested,
// records an initial health check, and publishes it into the version
// set. It does not change the
// active version; call SetActiveVersion to promote it. Load calls for
// the same model name are serialized so two concurrent loads of
// different versions can't race on warm-up or registration.
func (r *ModelRegistry) Load(ctx context.Context, cfg ModelConfig) (*LoadedModel, error) {
	st := r.stateFor(cfg.Name, true)

	st.serialize.Lock()
	defer st.serialize.Unlock()

	if st.loader == nil {
		return nil, ErrNoLoader
	}

	st.mu.RLock()
	_, exists := st.versions[cfg.Version]
	st.mu.RUnlock()
	if exists {
		return nil, ErrAlreadyLoaded
	}

	handle, err := st.loader(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load %s@%s: %w", cfg.Name, cfg.Version, err)
	}

	if cfg.WarmupTokens > 0 {
		if err := warmup(ctx, handle, cfg.WarmupTokens); err != nil {
			if c, ok := handle.(Cleanable); ok {
				c.Cleanup()
			}
			return nil, fmt.Errorf("%w: %v", ErrWarmupFailed, err)
		}
	}

	lm := newLoadedModel(cfg, handle)
	if hc, ok := handle.(HealthCheckable); ok {
		healthy := hc.HealthCheck(ctx)
		lm.healthy.Store(healthy)
		if healthy {
			lm.lastHealthOK.Store(nowNano())
		}
	}

	st.mu.Lock()
	st.versions[cfg.Version] = lm
	st.mu.Unlock()

	return lm, nil
}

func warmup(ctx context.Context, m Model, tokens int) error {
	in := []GenerateInput{{Prompt: "warmup", MaxTokens: tokens, Temperature: 0}}
	return m.Generate(ctx, in, func(int, StreamToken) {})
}

// SetActiveVersion atomically publishes version as the active version
// for name. Every Lookup that starts after it returns sees the new
// version; Lookup reads the pointer atomically but takes a read lock on
// the version map.
func (r *ModelRegistry) SetActiveVersion(name, version string) error {
	st := r.stateFor(name, false)
	if st == nil {
		return ErrUnknownModel
	}

	st.serialize.Lock()
	defer st.serialize.Unlock()

	st.mu.RLock()
	_, ok := st.versions[version]
	st.mu.RUnlock()
	if !ok {
		return ErrUnknownModel
	}

	v := version
	st.active.Store(&v)
	return nil
}

// Lookup returns the active LoadedModel for name, acquiring a
// reference on it. Callers must call Release when done.
func (r *ModelRegistry) Lookup(name string) (*LoadedModel, error) {
	st := r.stateFor(name, false)
	if st == nil {
		return nil, ErrUnknownModel
	}

	vp := st.active.Load()
	if vp == nil {
		return nil, ErrUnknownModel
	}

	st.mu.RLock()
	lm, ok := st.versions[*vp]
	st.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownModel
	}

	lm.acquire()
	return lm, nil
}

// Release drops the reference taken by Lookup. If the version was
// unloaded while the reference was held and this was the last one, the
// model's deferred cleanup runs now.
func (r *ModelRegistry) Release(lm *LoadedModel) {
	lm.release()
}

// Unload removes version from name's version set. If version is
// currently active, the active pointer is cleared first so no new
// Lookup can acquire it. Outstanding references keep the model alive;
// the model's Cleanup hook, if any, runs once the last one is released.
func (r *ModelRegistry) Unload(name, version string) error {
	st := r.stateFor(name, false)
	if st == nil {
		return ErrUnknownModel
	}

	st.serialize.Lock()
	defer st.serialize.Unlock()

	st.mu.Lock()
	lm, ok := st.versions[version]
	if !ok {
		st.mu.Unlock()
		return ErrUnknownModel
	}
	if vp := st.active.Load(); vp != nil && *vp == version {
		st.active.Store(nil)
	}
	delete(st.versions, version)
	st.mu.Unlock()

	lm.retire(func() {
		if c, ok := lm.Handle.(Cleanable); ok {
			c.Cleanup()
		}
	})
	return nil
}

// ModelSummary is a diagnostic view of one loaded version.
type ModelSummary struct {
	Name     string
	Version  string
	Active   bool
	Healthy  bool
	Requests int64
	Errors   int64
	Tokens   int64
}

// List enumerates every loaded (name, version) pair, sorted by name
// then version, for the /models and /status endpoints.
func (r *ModelRegistry) List() []ModelSummary {
	r.mu.RLock()
	names := make([]*modelState, 0, len(r.models))
	keys := make([]string, 0, len(r.models))
	for name, st := range r.models {
		names = append(names, st)
		keys = append(keys, name)
	}
	r.mu.RUnlock()

	var out []ModelSummary
	for i, st := range names {
		name := keys[i]
		st.mu.RLock()
		active := st.active.Load()
		for version, lm := range st.versions {
			out = append(out, ModelSummary{
				Name:     name,
				Version:  version,
				Active:   active != nil && *active == version,
				Healthy:  lm.Healthy(),
				Requests: lm.Requests.Load(),
				Errors:   lm.Errors.Load(),
				Tokens:   lm.Tokens.Load(),
			})
		}
		st.mu.RUnlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out
}

// HealthCheckAll runs HealthCheck (when supported) against every
// loaded version and updates its healthy flag.
func (r *ModelRegistry) HealthCheckAll(ctx context.Context) {
	r.mu.RLock()
	states := make([]*modelState, 0, len(r.models))
	for _, st := range r.models {
		states = append(states, st)
	}
	r.mu.RUnlock()

	for _, st := range states {
		st.mu.RLock()
		models := make([]*LoadedModel, 0, len(st.versions))
		for _, lm := range st.versions {
			models = append(models, lm)
		}
		st.mu.RUnlock()

		for _, lm := range models {
			ok := true
			if hc, isHC := lm.Handle.(HealthCheckable); isHC {
				ok = hc.HealthCheck(ctx)
			}
			lm.healthy.Store(ok)
			if ok {
				lm.lastHealthOK.Store(nowNano())
			}
		}
	}
}
