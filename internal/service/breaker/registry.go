package breaker

import (
	"sort"
	"sync"
)

// Registry выдаёт по одному breaker на ключ "<dependency>.<operation>".
// Breaker, созданный для ключа, разделяется всеми вызывающими в процессе.
type Registry struct {
	settings Settings

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry создаёт реестр; settings применяются ко всем breaker.
func NewRegistry(settings Settings) *Registry {
	return &Registry{
		settings: settings,
		breakers: make(map[string]*Breaker),
	}
}

// Get возвращает breaker по ключу, создавая его при первом обращении.
func (r *Registry) Get(name string) *Breaker {
	return r.get(name, r.settings)
}

// GetClassified как Get, но breaker создаётся с собственным классификатором ошибок
// вместо Settings.IsFailure реестра. Классификатор задаёт тот, кто создал breaker первым.
func (r *Registry) GetClassified(name string, isFailure func(error) bool) *Breaker {
	settings := r.settings
	if isFailure != nil {
		settings.IsFailure = isFailure
	}
	return r.get(name, settings)
}

func (r *Registry) get(name string, settings Settings) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, settings)
	r.breakers[name] = b
	return b
}

// Snapshot возвращает состояние всех breaker, отсортированное по имени.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Open возвращает имена breaker, находящихся в режиме OPEN или HALF_OPEN.
func (r *Registry) Open() []string {
	var names []string
	for _, s := range r.Snapshot() {
		if s.State != StateClosed {
			names = append(names, s.Name)
		}
	}
	return names
}
