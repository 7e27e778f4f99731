package registry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"

	"github.com/louisbranch/bookshelf/internal/storage"
)

type listFunc func() []string

func populated(t *testing.T, build func(b *Builder)) *Registry {
	t.Helper()
	r := New()
	b, err := r.Begin()
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	if build != nil {
		build(b)
	}
	if err := b.Publish(); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	return r
}

func TestMergeMonotonicOverride(t *testing.T) {
	t.Parallel()

	low := Set[string]{"get_all_books": {Priority: 1, Value: "f1"}}
	high := Set[string]{"get_all_books": {Priority: 2, Value: "f2"}}

	forward := Merged[string]{}
	Merge(forward, "api_v1", low)
	res := Merge(forward, "patch_11_01_26", high)
	if !reflect.DeepEqual(res.Overridden, []string{"get_all_books"}) {
		t.Fatalf("overridden = %v, want [get_all_books]", res.Overridden)
	}
	if got := forward["get_all_books"]; got.Value != "f2" || got.Source != "patch_11_01_26" {
		t.Fatalf("forward entry = %+v, want f2 from patch_11_01_26", got)
	}

	backward := Merged[string]{}
	Merge(backward, "patch_11_01_26", high)
	res = Merge(backward, "api_v1", low)
	if !reflect.DeepEqual(res.Discarded, []string{"get_all_books"}) {
		t.Fatalf("discarded = %v, want [get_all_books]", res.Discarded)
	}
	if got := backward["get_all_books"]; got.Value != "f2" || got.Priority != 2 {
		t.Fatalf("backward entry = %+v, want f2 at priority 2", got)
	}
}

func TestMergeTieKeepsFirst(t *testing.T) {
	t.Parallel()

	merged := Merged[string]{}
	for i, value := range []string{"a", "b", "c", "d"} {
		res := Merge(merged, value, Set[string]{"page": {Priority: 3, Value: value}})
		want := res.Discarded
		if i == 0 {
			want = res.Inserted
		}
		if !reflect.DeepEqual(want, []string{"page"}) {
			t.Fatalf("merge %d result = %+v", i, res)
		}
	}
	if got := merged["page"].Value; got != "a" {
		t.Fatalf("page = %q, want %q", got, "a")
	}
}

func TestMergeRejectsNegativePriority(t *testing.T) {
	t.Parallel()

	merged := Merged[int]{}
	res := Merge(merged, "bad", Set[int]{
		"ok":  {Priority: 0, Value: 1},
		"bad": {Priority: -1, Value: 2},
	})
	if !reflect.DeepEqual(res.Inserted, []string{"ok"}) {
		t.Fatalf("inserted = %v, want [ok]", res.Inserted)
	}
	if !reflect.DeepEqual(res.Rejected, []string{"bad"}) {
		t.Fatalf("rejected = %v, want [bad]", res.Rejected)
	}
	if res.Err() == nil {
		t.Fatal("expected error for negative priority")
	}
	if res.Accepted() != 1 {
		t.Fatalf("accepted = %d, want 1", res.Accepted())
	}
	if _, ok := merged["bad"]; ok {
		t.Fatal("negative priority entry was merged")
	}
}

func TestMergeNilSetIsEmpty(t *testing.T) {
	t.Parallel()

	merged := Merged[int]{}
	res := Merge(merged, "none", nil)
	if res.Accepted() != 0 || res.Err() != nil {
		t.Fatalf("result = %+v, err %v", res, res.Err())
	}
	if len(merged) != 0 {
		t.Fatalf("merged = %v, want empty", merged)
	}
}

func TestBuilderMergeAfterPublishIsDiscarded(t *testing.T) {
	t.Parallel()

	r := New()
	b, err := r.Begin()
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	b.MergeServices("api_v1", Set[any]{"svc": {Priority: 1, Value: "original"}})
	if err := b.Publish(); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	res := b.MergeServices("late", Set[any]{
		"svc":   {Priority: 99, Value: "mutated"},
		"extra": {Priority: 1, Value: "new"},
	})
	if !errors.Is(res.Err(), ErrAlreadyPublished) {
		t.Fatalf("late merge err = %v, want %v", res.Err(), ErrAlreadyPublished)
	}
	if res.Accepted() != 0 {
		t.Fatalf("late merge accepted %d entries", res.Accepted())
	}
	if !reflect.DeepEqual(res.Discarded, []string{"extra", "svc"}) {
		t.Fatalf("discarded = %v, want [extra svc]", res.Discarded)
	}
	for _, merge := range []func() MergeResult{
		func() MergeResult { return b.MergeModels("late", Set[storage.Model]{"Book": {Priority: 1}}) },
		func() MergeResult { return b.MergeSchemas("late", nil) },
		func() MergeResult { return b.MergeRouters("late", Set[http.Handler]{"/x": {Priority: 1}}) },
	} {
		if err := merge().Err(); !errors.Is(err, ErrAlreadyPublished) {
			t.Fatalf("late merge err = %v, want %v", err, ErrAlreadyPublished)
		}
	}

	if v, _ := r.Service("svc"); v != "original" {
		t.Fatalf("svc = %v, want original", v)
	}
	if _, ok := r.Service("extra"); ok {
		t.Fatal("late service became visible")
	}
	if _, ok := r.Model("Book"); ok {
		t.Fatal("late model became visible")
	}
	if len(b.Counts()) != 0 {
		t.Fatalf("counts after publish = %v, want empty", b.Counts())
	}
}

func TestCategoryIsolation(t *testing.T) {
	t.Parallel()

	handler := http.NotFoundHandler()
	r := populated(t, func(b *Builder) {
		b.MergeModels("a", Set[storage.Model]{"Book": {Priority: 1, Value: storage.Model{Name: "Book", Table: "books"}}})
		b.MergeServices("a", Set[any]{"Book": {Priority: 5, Value: "service"}})
		b.MergeRouters("a", Set[http.Handler]{"Book": {Priority: 1, Value: handler}})
	})

	model, ok := r.Model("Book")
	if !ok || model.Table != "books" {
		t.Fatalf("Model(Book) = %+v, %v", model, ok)
	}
	svc, ok := r.Service("Book")
	if !ok || svc != "service" {
		t.Fatalf("Service(Book) = %v, %v", svc, ok)
	}
	if _, ok := r.Schema("Book"); ok {
		t.Fatal("schema Book should not exist")
	}
	if got, ok := r.Get(Routers, "Book"); !ok || got == nil {
		t.Fatalf("Get(routers, Book) = %v, %v", got, ok)
	}
}

func TestLookupMissIsNotAnError(t *testing.T) {
	t.Parallel()

	r := populated(t, nil)
	if _, ok := r.Service("missing"); ok {
		t.Fatal("expected service miss")
	}
	if _, ok := r.Router("/missing"); ok {
		t.Fatal("expected router miss")
	}
	if _, ok := r.Get(Category("widgets"), "x"); ok {
		t.Fatal("expected miss for unknown category")
	}
	if names := r.Names(Category("widgets")); names != nil {
		t.Fatalf("Names(widgets) = %v, want nil", names)
	}
}

func TestLookupBeforePopulatedPanics(t *testing.T) {
	t.Parallel()

	r := New()
	if err := r.Check(); !errors.Is(err, ErrUninitialized) {
		t.Fatalf("Check = %v, want %v", err, ErrUninitialized)
	}

	defer func() {
		recovered := recover()
		err, ok := recovered.(*UninitializedError)
		if !ok {
			t.Fatalf("panic value %T, want *UninitializedError", recovered)
		}
		if err.Category != Services || err.Name != "get_all_books" || err.State != Empty {
			t.Fatalf("panic = %+v", err)
		}
	}()
	r.Service("get_all_books")
}

func TestLookupWhilePopulatingPanics(t *testing.T) {
	t.Parallel()

	r := New()
	b, err := r.Begin()
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	b.MergeRouters("frontend_v1", Set[http.Handler]{"": {Priority: 1, Value: http.NotFoundHandler()}})

	if r.State() != Populating {
		t.Fatalf("state = %v, want %v", r.State(), Populating)
	}
	defer func() {
		err, ok := recover().(error)
		if !ok {
			t.Fatal("expected panic with error")
		}
		const want = "registry read of routers before population (state populating)"
		if err.Error() != want {
			t.Fatalf("panic = %q, want %q", err, want)
		}
	}()
	r.Routers()
}

func TestStateMachine(t *testing.T) {
	t.Parallel()

	r := New()
	if r.State() != Empty {
		t.Fatalf("state = %v, want %v", r.State(), Empty)
	}

	b, err := r.Begin()
	if err != nil {
		t.Fatalf("Begin returned error: %v", err)
	}
	if _, err := r.Begin(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Begin = %v, want %v", err, ErrAlreadyStarted)
	}

	if err := b.Publish(); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if r.State() != Populated {
		t.Fatalf("state = %v, want %v", r.State(), Populated)
	}
	if err := r.Check(); err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if err := b.Publish(); !errors.Is(err, ErrAlreadyPublished) {
		t.Fatalf("second Publish = %v, want %v", err, ErrAlreadyPublished)
	}
	if _, err := r.Begin(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("Begin after publish = %v, want %v", err, ErrAlreadyStarted)
	}
	if r.State() != Populated {
		t.Fatalf("state = %v, want %v", r.State(), Populated)
	}
}

func TestRoutersAndNamesAreSorted(t *testing.T) {
	t.Parallel()

	root := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	r := populated(t, func(b *Builder) {
		b.MergeRouters("frontend_v1", Set[http.Handler]{"": {Priority: 1, Value: root}})
		b.MergeRouters("api_v1", Set[http.Handler]{
			"/api/v1/books": {Priority: 1, Value: http.NotFoundHandler()},
			"/api/v1/admin": {Priority: 1, Value: http.NotFoundHandler()},
		})
	})

	routes := r.Routers()
	if len(routes) != 3 {
		t.Fatalf("routes = %d, want 3", len(routes))
	}
	var prefixes []string
	for _, route := range routes {
		prefixes = append(prefixes, route.Prefix)
	}
	want := []string{"", "/api/v1/admin", "/api/v1/books"}
	if !reflect.DeepEqual(prefixes, want) {
		t.Fatalf("prefixes = %q, want %q", prefixes, want)
	}

	rr := httptest.NewRecorder()
	routes[0].Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("root status = %d, want %d", rr.Code, http.StatusTeapot)
	}

	if names := r.Names(Routers); !reflect.DeepEqual(names, want) {
		t.Fatalf("Names(routers) = %q, want %q", names, want)
	}
	if names := r.Names(Models); len(names) != 0 {
		t.Fatalf("Names(models) = %q, want empty", names)
	}
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	r := populated(t, func(b *Builder) {
		b.MergeServices("api_v1", Set[any]{"get_all_books": {Priority: 1, Value: listFunc(nil)}})
		b.MergeServices("patch_11_01_26", Set[any]{"get_all_books": {Priority: 2, Value: listFunc(nil)}})
	})
	desc := r.Describe()
	want := []EntryInfo{{Name: "get_all_books", Priority: 2, Source: "patch_11_01_26"}}
	if !reflect.DeepEqual(desc[Services], want) {
		t.Fatalf("services = %+v, want %+v", desc[Services], want)
	}
	if len(desc[Models]) != 0 {
		t.Fatalf("models = %+v, want empty", desc[Models])
	}
}

func TestModelsOrderedByName(t *testing.T) {
	t.Parallel()

	r := populated(t, func(b *Builder) {
		b.MergeModels("x", Set[storage.Model]{
			"Review": {Priority: 1, Value: storage.Model{Name: "Review"}},
			"Book":   {Priority: 1, Value: storage.Model{Name: "Book"}},
		})
	})
	models := r.Models()
	if len(models) != 2 || models[0].Name != "Book" || models[1].Name != "Review" {
		t.Fatalf("models = %+v, want Book then Review", models)
	}
}

func TestServiceAs(t *testing.T) {
	t.Parallel()

	r := populated(t, func(b *Builder) {
		b.MergeServices("api_v1", Set[any]{
			"list":  {Priority: 1, Value: listFunc(func() []string { return []string{"Dune"} })},
			"wrong": {Priority: 1, Value: 42},
		})
	})

	fn, err := ServiceAs[listFunc](r, "list")
	if err != nil {
		t.Fatalf("ServiceAs(list) returned error: %v", err)
	}
	if got := fn(); !reflect.DeepEqual(got, []string{"Dune"}) {
		t.Fatalf("list() = %v, want [Dune]", got)
	}

	if _, err := ServiceAs[listFunc](r, "missing"); !errors.Is(err, ErrServiceNotFound) {
		t.Fatalf("ServiceAs(missing) = %v, want %v", err, ErrServiceNotFound)
	}

	_, err = ServiceAs[listFunc](r, "wrong")
	var typeErr *ServiceTypeError
	if !errors.As(err, &typeErr) {
		t.Fatalf("ServiceAs(wrong) = %v, want *ServiceTypeError", err)
	}
	if typeErr.Got != "int" {
		t.Fatalf("got type = %q, want int", typeErr.Got)
	}
}

func TestConcurrentReadsAfterPublish(t *testing.T) {
	t.Parallel()

	r := populated(t, func(b *Builder) {
		b.MergeServices("a", Set[any]{"s": {Priority: 1, Value: "v"}})
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				v, ok := r.Service("s")
				if !ok || v != "v" {
					t.Errorf("Service(s) = %v, %v", v, ok)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestCategories(t *testing.T) {
	t.Parallel()

	want := []Category{Models, Schemas, Services, Routers}
	if got := Categories(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Categories() = %v, want %v", got, want)
	}
}
