package cfgsource

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Okazakee/okazakee-ws-sub000/internal/log"
	"github.com/Okazakee/okazakee-ws-sub000/internal/routing"
)

// fakeFetcher is a scripted RulesFetcher.
type fakeFetcher struct {
	classifier *routing.Classifier
	digest     string
	err        error
	calls      int
}

func (f *fakeFetcher) LoadClassifier(ctx context.Context) (*routing.Classifier, string, error) {
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	return f.classifier, f.digest, nil
}

func mustClassifier(t *testing.T, rules []routing.Rule) *routing.Classifier {
	t.Helper()
	c, err := routing.NewClassifier(rules)
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	return c
}

func TestCheckOnce_SwapsOnNewDigest(t *testing.T) {
	next := mustClassifier(t, []routing.Rule{
		{Kind: string(routing.KindAPI), Pattern: `^/v2(/|$)`},
	})
	store := routing.NewStore(routing.Default())

	var swapped string
	w := NewWatcher(&WatcherOptions{
		Logger:     log.Nop(),
		Loader:     &fakeFetcher{classifier: next, digest: "digest-b"},
		Store:      store,
		SeedDigest: "digest-a",
		OnSwap:     func(d string) { swapped = d },
	})

	if got := w.checkOnce(context.Background()); got != pollSwapped {
		t.Fatalf("checkOnce = %d, want pollSwapped", got)
	}
	if swapped != "digest-b" {
		t.Fatalf("OnSwap digest = %q, want digest-b", swapped)
	}
	if d := store.Classify("/v2/items"); !d.Bypass {
		t.Fatal("store should classify with the swapped rules")
	}
	if w.currentDigest != "digest-b" {
		t.Fatalf("currentDigest = %q, want digest-b", w.currentDigest)
	}
}

func TestCheckOnce_NoChange(t *testing.T) {
	store := routing.NewStore(routing.Default())
	seed := store.Current()

	var swaps int
	w := NewWatcher(&WatcherOptions{
		Logger:     log.Nop(),
		Loader:     &fakeFetcher{classifier: routing.Default(), digest: "same"},
		Store:      store,
		SeedDigest: "same",
		OnSwap:     func(string) { swaps++ },
	})

	if got := w.checkOnce(context.Background()); got != pollNoChange {
		t.Fatalf("checkOnce = %d, want pollNoChange", got)
	}
	if swaps != 0 {
		t.Fatalf("swaps = %d, want 0", swaps)
	}
	if store.Current() != seed {
		t.Fatal("classifier should be untouched when digest matches")
	}
}

func TestCheckOnce_FetchError(t *testing.T) {
	store := routing.NewStore(routing.Default())

	var errKinds []string
	w := NewWatcher(&WatcherOptions{
		Logger:  log.Nop(),
		Loader:  &fakeFetcher{err: fmt.Errorf("ssm down")},
		Store:   store,
		OnError: func(kind string) { errKinds = append(errKinds, kind) },
	})

	if got := w.checkOnce(context.Background()); got != pollFetchError {
		t.Fatalf("checkOnce = %d, want pollFetchError", got)
	}
	if len(errKinds) != 1 || errKinds[0] != "fetch" {
		t.Fatalf("OnError calls = %v, want one 'fetch'", errKinds)
	}
}

func TestBackoffDuration_GrowsAndCaps(t *testing.T) {
	w := NewWatcher(&WatcherOptions{
		Logger:       log.Nop(),
		Loader:       &fakeFetcher{},
		Store:        routing.NewStore(routing.Default()),
		PollInterval: time.Minute,
	})

	w.consecutiveErrs = 1
	if got := w.backoffDuration(); got != time.Minute {
		t.Fatalf("backoff(1) = %v, want 1m", got)
	}
	w.consecutiveErrs = 2
	if got := w.backoffDuration(); got != 2*time.Minute {
		t.Fatalf("backoff(2) = %v, want 2m", got)
	}
	w.consecutiveErrs = 10
	if got := w.backoffDuration(); got != maxBackoff {
		t.Fatalf("backoff(10) = %v, want cap %v", got, maxBackoff)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	w := NewWatcher(&WatcherOptions{
		Logger:       log.Nop(),
		Loader:       &fakeFetcher{classifier: routing.Default(), digest: "x"},
		Store:        routing.NewStore(routing.Default()),
		PollInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
