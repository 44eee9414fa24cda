package notify_test

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"muster/internal/listener"
	"muster/internal/notify"
	"muster/internal/registry"
)

// hookRecorder is a webhook receiver that records the paths it is
// called on.
type hookRecorder struct {
	mu     sync.Mutex
	paths  []string
	status int
}

func newHookRecorder(status int) (*hookRecorder, *httptest.Server) {
	rec := &hookRecorder{status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.mu.Lock()
		rec.paths = append(rec.paths, r.URL.Path)
		rec.mu.Unlock()
		w.WriteHeader(rec.status)
	}))
	return rec, srv
}

func (r *hookRecorder) sortedPaths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := slices.Clone(r.paths)
	sort.Strings(out)
	return out
}

func newDispatcher(t *testing.T, dir *listener.Directory) *notify.Dispatcher {
	t.Helper()
	d, err := notify.NewDispatcher(notify.Config{
		Directory: dir,
		Timeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return d
}

func TestNewDispatcherRequiresDirectory(t *testing.T) {
	if _, err := notify.NewDispatcher(notify.Config{}); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestNotifyDeliversPerSubscription(t *testing.T) {
	rec, srv := newHookRecorder(http.StatusOK)
	defer srv.Close()

	dir := listener.NewDirectory()
	if err := dir.SubscribeName("dns", srv.URL+"/hook"); err != nil {
		t.Fatalf("SubscribeName: %v", err)
	}
	if err := dir.SubscribeTag("ip", srv.URL+"/hook"); err != nil {
		t.Fatalf("SubscribeTag: %v", err)
	}
	if err := dir.SubscribeAll(srv.URL + "/hook"); err != nil {
		t.Fatalf("SubscribeAll: %v", err)
	}

	d := newDispatcher(t, dir)
	d.Notify(registry.Provider{
		ID:      registry.NewProviderID(),
		Service: "dns",
		Tags:    []string{"ip"},
	})

	// Notify has returned, so every delivery attempt has concluded.
	want := []string{"/hook/all", "/hook/dns", "/hook/ip"}
	if got := rec.sortedPaths(); !slices.Equal(got, want) {
		t.Errorf("delivered paths = %v, want %v", got, want)
	}
}

func TestNotifyMatchesSubscriptionsToRecord(t *testing.T) {
	rec, srv := newHookRecorder(http.StatusOK)
	defer srv.Close()

	dir := listener.NewDirectory()
	// None of these match a "dns"/{"ip"} record.
	if err := dir.SubscribeName("dhcp", srv.URL+"/hook"); err != nil {
		t.Fatalf("SubscribeName: %v", err)
	}
	if err := dir.SubscribeTag("udp", srv.URL+"/hook"); err != nil {
		t.Fatalf("SubscribeTag: %v", err)
	}

	d := newDispatcher(t, dir)
	d.Notify(registry.Provider{
		ID:      registry.NewProviderID(),
		Service: "dns",
		Tags:    []string{"ip"},
	})

	if got := rec.sortedPaths(); len(got) != 0 {
		t.Errorf("unrelated subscriptions received deliveries: %v", got)
	}
}

func TestNotifyDeliversOncePerMatchingTag(t *testing.T) {
	rec, srv := newHookRecorder(http.StatusOK)
	defer srv.Close()

	dir := listener.NewDirectory()
	// Same webhook on two of the record's tags: one delivery per tag.
	if err := dir.SubscribeTag("ip", srv.URL+"/hook"); err != nil {
		t.Fatalf("SubscribeTag: %v", err)
	}
	if err := dir.SubscribeTag("udp", srv.URL+"/hook"); err != nil {
		t.Fatalf("SubscribeTag: %v", err)
	}

	d := newDispatcher(t, dir)
	d.Notify(registry.Provider{
		ID:      registry.NewProviderID(),
		Service: "dns",
		Tags:    []string{"ip", "udp"},
	})

	want := []string{"/hook/ip", "/hook/udp"}
	if got := rec.sortedPaths(); !slices.Equal(got, want) {
		t.Errorf("delivered paths = %v, want %v", got, want)
	}
}

func TestNotifyDuplicateSubscriptionsEachDeliver(t *testing.T) {
	rec, srv := newHookRecorder(http.StatusOK)
	defer srv.Close()

	dir := listener.NewDirectory()
	for i := 0; i < 2; i++ {
		if err := dir.SubscribeName("dns", srv.URL+"/hook"); err != nil {
			t.Fatalf("SubscribeName: %v", err)
		}
	}

	d := newDispatcher(t, dir)
	d.Notify(registry.Provider{ID: registry.NewProviderID(), Service: "dns"})

	want := []string{"/hook/dns", "/hook/dns"}
	if got := rec.sortedPaths(); !slices.Equal(got, want) {
		t.Errorf("delivered paths = %v, want %v", got, want)
	}
}

func TestNotifyNormalizesWebhookBase(t *testing.T) {
	rec, srv := newHookRecorder(http.StatusOK)
	defer srv.Close()

	dir := listener.NewDirectory()
	// Trailing slashes must collapse to exactly one before the suffix.
	if err := dir.SubscribeName("dns", srv.URL+"/hook/"); err != nil {
		t.Fatalf("SubscribeName: %v", err)
	}
	if err := dir.SubscribeAll(srv.URL + "/other//"); err != nil {
		t.Fatalf("SubscribeAll: %v", err)
	}

	d := newDispatcher(t, dir)
	d.Notify(registry.Provider{ID: registry.NewProviderID(), Service: "dns"})

	want := []string{"/hook/dns", "/other/all"}
	if got := rec.sortedPaths(); !slices.Equal(got, want) {
		t.Errorf("delivered paths = %v, want %v", got, want)
	}
}

func TestNotifyFailuresAreCountedNotPropagated(t *testing.T) {
	rec, srv := newHookRecorder(http.StatusInternalServerError)
	defer srv.Close()

	// One failing subscriber, one unreachable one.
	dead := httptest.NewServer(http.NewServeMux())
	deadURL := dead.URL
	dead.Close()

	dir := listener.NewDirectory()
	if err := dir.SubscribeName("dns", srv.URL+"/hook"); err != nil {
		t.Fatalf("SubscribeName: %v", err)
	}
	if err := dir.SubscribeName("dns", deadURL+"/hook"); err != nil {
		t.Fatalf("SubscribeName: %v", err)
	}

	d := newDispatcher(t, dir)
	d.Notify(registry.Provider{ID: registry.NewProviderID(), Service: "dns"})

	// The reachable-but-failing subscriber still got its attempt.
	if got := rec.sortedPaths(); !slices.Equal(got, []string{"/hook/dns"}) {
		t.Errorf("delivered paths = %v, want [/hook/dns]", got)
	}

	stats := d.Stats()
	if stats.Cycles != 1 {
		t.Errorf("Cycles = %d, want 1", stats.Cycles)
	}
	if stats.Deliveries != 2 {
		t.Errorf("Deliveries = %d, want 2", stats.Deliveries)
	}
	if stats.Failures != 2 {
		t.Errorf("Failures = %d, want 2", stats.Failures)
	}
}

func TestNotifyNoSubscribersIsCheap(t *testing.T) {
	d := newDispatcher(t, listener.NewDirectory())
	d.Notify(registry.Provider{ID: registry.NewProviderID(), Service: "dns"})

	stats := d.Stats()
	if stats.Cycles != 1 || stats.Deliveries != 0 {
		t.Errorf("Stats = %+v, want one empty cycle", stats)
	}
}
