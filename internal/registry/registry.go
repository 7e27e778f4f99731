package registry

import (
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/louisbranch/bookshelf/internal/schema"
	"github.com/louisbranch/bookshelf/internal/storage"
)

// State is the population stage of a Registry.
type State int32

const (
	Empty State = iota
	Populating
	Populated
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Populating:
		return "populating"
	case Populated:
		return "populated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	// ErrUninitialized matches every *UninitializedError.
	ErrUninitialized = errors.New("registry is not populated")
	// ErrAlreadyStarted is returned by a second Begin.
	ErrAlreadyStarted = errors.New("registry population already started")
	// ErrAlreadyPublished is returned by a second Publish and reported by
	// merges offered after Publish.
	ErrAlreadyPublished = errors.New("registry already published")
	// ErrServiceNotFound is returned by ServiceAs on a lookup miss.
	ErrServiceNotFound = errors.New("service not found")
)

// UninitializedError reports a read of the registry before it was populated.
type UninitializedError struct {
	Category Category
	Name     string
	State    State
}

func (e *UninitializedError) Error() string {
	if e.Category == "" {
		return fmt.Sprintf("registry read before population (state %s)", e.State)
	}
	if e.Name == "" {
		return fmt.Sprintf("registry read of %s before population (state %s)", e.Category, e.State)
	}
	return fmt.Sprintf("registry lookup %s/%q before population (state %s)", e.Category, e.Name, e.State)
}

// Is matches ErrUninitialized.
func (e *UninitializedError) Is(target error) bool {
	return target == ErrUninitialized
}

// ServiceTypeError reports a service whose value has an unexpected type.
type ServiceTypeError struct {
	Name string
	Want string
	Got  string
}

func (e *ServiceTypeError) Error() string {
	return fmt.Sprintf("service %q is %s, want %s", e.Name, e.Got, e.Want)
}

type snapshot struct {
	models   Merged[storage.Model]
	schemas  Merged[*schema.Schema]
	services Merged[any]
	routers  Merged[http.Handler]
}

func newSnapshot() *snapshot {
	return &snapshot{
		models:   Merged[storage.Model]{},
		schemas:  Merged[*schema.Schema]{},
		services: Merged[any]{},
		routers:  Merged[http.Handler]{},
	}
}

// Registry holds the merged capabilities. It is written once by a Builder
// and read without locks afterwards.
type Registry struct {
	state atomic.Int32
	snap  atomic.Pointer[snapshot]
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// State returns the current population stage.
func (r *Registry) State() State {
	return State(r.state.Load())
}

// Begin moves the registry to Populating and returns its only writer.
func (r *Registry) Begin() (*Builder, error) {
	if !r.state.CompareAndSwap(int32(Empty), int32(Populating)) {
		return nil, ErrAlreadyStarted
	}
	return &Builder{registry: r, snap: newSnapshot()}, nil
}

// Check returns an *UninitializedError unless the registry is populated.
func (r *Registry) Check() error {
	if state := r.State(); state != Populated {
		return &UninitializedError{State: state}
	}
	return nil
}

func (r *Registry) read(category Category, name string) *snapshot {
	state := r.State()
	snap := r.snap.Load()
	if state != Populated || snap == nil {
		panic(&UninitializedError{Category: category, Name: name, State: state})
	}
	return snap
}

// Model returns the merged model registered under name.
func (r *Registry) Model(name string) (storage.Model, bool) {
	entry, ok := r.read(Models, name).models[name]
	return entry.Value, ok
}

// Schema returns the merged schema registered under name.
func (r *Registry) Schema(name string) (*schema.Schema, bool) {
	entry, ok := r.read(Schemas, name).schemas[name]
	return entry.Value, ok
}

// Service returns the merged service registered under name.
func (r *Registry) Service(name string) (any, bool) {
	entry, ok := r.read(Services, name).services[name]
	return entry.Value, ok
}

// Router returns the merged router registered under prefix.
func (r *Registry) Router(prefix string) (http.Handler, bool) {
	entry, ok := r.read(Routers, prefix).routers[prefix]
	return entry.Value, ok
}

// Get returns the merged value of any category.
func (r *Registry) Get(category Category, name string) (any, bool) {
	switch category {
	case Models:
		return r.Model(name)
	case Schemas:
		return r.Schema(name)
	case Services:
		return r.Service(name)
	case Routers:
		return r.Router(name)
	default:
		return nil, false
	}
}

// Models returns every merged model ordered by name.
func (r *Registry) Models() []storage.Model {
	snap := r.read(Models, "")
	out := make([]storage.Model, 0, len(snap.models))
	for _, name := range sortedNames(snap.models) {
		out = append(out, snap.models[name].Value)
	}
	return out
}

// Route is a merged router and the prefix it was registered under.
type Route struct {
	Prefix  string
	Handler http.Handler
}

// Routers returns every merged router ordered by prefix.
func (r *Registry) Routers() []Route {
	snap := r.read(Routers, "")
	out := make([]Route, 0, len(snap.routers))
	for _, prefix := range sortedNames(snap.routers) {
		out = append(out, Route{Prefix: prefix, Handler: snap.routers[prefix].Value})
	}
	return out
}

// Names returns the merged names of a category in sorted order.
func (r *Registry) Names(category Category) []string {
	snap := r.read(category, "")
	switch category {
	case Models:
		return sortedNames(snap.models)
	case Schemas:
		return sortedNames(snap.schemas)
	case Services:
		return sortedNames(snap.services)
	case Routers:
		return sortedNames(snap.routers)
	default:
		return nil
	}
}

// EntryInfo describes one merged name without its value.
type EntryInfo struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Source   string `json:"source"`
}

// Describe lists every merged name per category.
func (r *Registry) Describe() map[Category][]EntryInfo {
	snap := r.read("", "")
	return map[Category][]EntryInfo{
		Models:   describe(snap.models),
		Schemas:  describe(snap.schemas),
		Services: describe(snap.services),
		Routers:  describe(snap.routers),
	}
}

func describe[V any](m Merged[V]) []EntryInfo {
	out := make([]EntryInfo, 0, len(m))
	for _, name := range sortedNames(m) {
		out = append(out, EntryInfo{Name: name, Priority: m[name].Priority, Source: m[name].Source})
	}
	return out
}

// ServiceAs looks up a service and asserts its function type.
func ServiceAs[F any](r *Registry, name string) (F, error) {
	var zero F
	value, ok := r.Service(name)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	fn, ok := value.(F)
	if !ok {
		return zero, &ServiceTypeError{Name: name, Want: fmt.Sprintf("%T", zero), Got: fmt.Sprintf("%T", value)}
	}
	return fn, nil
}

// Builder is the single writer of a Registry during population.
type Builder struct {
	registry *Registry
	snap     *snapshot
}

// MergeModels folds a plugin's models.
func (b *Builder) MergeModels(source string, set Set[storage.Model]) MergeResult {
	if b.snap == nil {
		return closedResult(set)
	}
	return Merge(b.snap.models, source, set)
}

// MergeSchemas folds a plugin's schemas.
func (b *Builder) MergeSchemas(source string, set Set[*schema.Schema]) MergeResult {
	if b.snap == nil {
		return closedResult(set)
	}
	return Merge(b.snap.schemas, source, set)
}

// MergeServices folds a plugin's services.
func (b *Builder) MergeServices(source string, set Set[any]) MergeResult {
	if b.snap == nil {
		return closedResult(set)
	}
	return Merge(b.snap.services, source, set)
}

// MergeRouters folds a plugin's routers.
func (b *Builder) MergeRouters(source string, set Set[http.Handler]) MergeResult {
	if b.snap == nil {
		return closedResult(set)
	}
	return Merge(b.snap.routers, source, set)
}

// closedResult discards every name of a set offered after Publish.
func closedResult[V any](set Set[V]) MergeResult {
	return MergeResult{Discarded: sortedNames(set), closed: true}
}

// Counts returns the number of merged names per category so far. It is
// empty once the builder has published.
func (b *Builder) Counts() map[Category]int {
	if b.snap == nil {
		return map[Category]int{}
	}
	return map[Category]int{
		Models:   len(b.snap.models),
		Schemas:  len(b.snap.schemas),
		Services: len(b.snap.services),
		Routers:  len(b.snap.routers),
	}
}

// Publish makes the merged snapshot visible and marks the registry Populated.
// The builder drops its snapshot, so later merges change nothing.
func (b *Builder) Publish() error {
	if b.snap == nil {
		return ErrAlreadyPublished
	}
	b.registry.snap.Store(b.snap)
	b.snap = nil
	b.registry.state.Store(int32(Populated))
	return nil
}
