package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/tvsubscribe/internal/downloader"
	"github.com/eugenenazirov/tvsubscribe/internal/model"
	"github.com/eugenenazirov/tvsubscribe/internal/settings"
	"github.com/eugenenazirov/tvsubscribe/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type staticSettings settings.Settings

func (s staticSettings) Get() settings.Settings { return settings.Settings(s) }

func readySettings() staticSettings {
	s := settings.Defaults()
	s.Cookie = "c_secure_uid=1"
	s.Passkey = "pk"
	return staticSettings(s)
}

type fakeSearcher struct {
	mu       sync.Mutex
	searched []string
	fail     map[string]bool
	calls    chan string
}

func (f *fakeSearcher) Search(_ context.Context, _ string, sub *model.Subscription) ([]model.Torrent, error) {
	f.mu.Lock()
	f.searched = append(f.searched, sub.DoubanID)
	f.mu.Unlock()
	if f.calls != nil {
		f.calls <- sub.DoubanID
	}
	if f.fail[sub.DoubanID] {
		return nil, errors.New("tracker down")
	}
	return []model.Torrent{{ID: "t" + sub.DoubanID}}, nil
}

func (f *fakeSearcher) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.searched...)
}

type fakeFetcher struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeFetcher) Download(_ context.Context, ids []string, _ settings.Settings) (downloader.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, ids...)
	return downloader.Report{Added: ids}, nil
}

func (f *fakeFetcher) downloaded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

func newStore(t *testing.T, doubanIDs ...string) *storage.FileStorage {
	t.Helper()
	store := storage.NewMemoryStorage()
	for _, id := range doubanIDs {
		_, err := store.Add(model.Subscription{ID: "sub-" + id, DoubanID: id, Resolution: model.Res1080P})
		require.NoError(t, err)
	}
	return store
}

func TestProcessAllContinuesPastFailures(t *testing.T) {
	searcher := &fakeSearcher{fail: map[string]bool{"2": true}}
	fetcher := &fakeFetcher{}
	s := New(newStore(t, "1", "2", "3"), readySettings(), searcher, fetcher, zaptest.NewLogger(t))
	defer s.Close()

	s.ProcessAll(context.Background(), "test")

	assert.Equal(t, []string{"1", "2", "3"}, searcher.seen())
	assert.Equal(t, []string{"t1", "t3"}, fetcher.downloaded())
}

func TestProcessAllSkipsWithoutCredentials(t *testing.T) {
	searcher := &fakeSearcher{}
	s := New(newStore(t, "1"), staticSettings(settings.Defaults()), searcher, &fakeFetcher{}, zaptest.NewLogger(t))
	defer s.Close()

	s.ProcessAll(context.Background(), "test")
	assert.Empty(t, searcher.seen())

	err := s.ProcessOne(context.Background(), model.Subscription{DoubanID: "1"})
	assert.Error(t, err)
}

func TestTriggerProcessesKnownIDsInBackground(t *testing.T) {
	searcher := &fakeSearcher{}
	fetcher := &fakeFetcher{}
	s := New(newStore(t, "1", "2"), readySettings(), searcher, fetcher, zaptest.NewLogger(t))

	n, err := s.Trigger([]string{"sub-2", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.Trigger([]string{"missing"})
	require.NoError(t, err)
	assert.Zero(t, n)

	s.Close()
	assert.Equal(t, []string{"2"}, searcher.seen())
	assert.Equal(t, []string{"t2"}, fetcher.downloaded())

	_, err = s.Trigger([]string{"sub-1"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Enqueue(model.Subscription{DoubanID: "1"}), ErrClosed)
}

func TestIntervalForStaysPositiveAndBounded(t *testing.T) {
	cases := map[string]struct {
		minutes int
		want    time.Duration
	}{
		"default for zero":     {0, time.Hour},
		"default for negative": {-5, time.Hour},
		"as configured":        {15, 15 * time.Minute},
		"one week":             {settings.MaxIntervalMinutes, 7 * 24 * time.Hour},
		"would overflow":       {200_000_000, 7 * 24 * time.Hour},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, intervalFor(tc.minutes))
		})
	}
}

func TestRunProcessesImmediatelyAndOnKick(t *testing.T) {
	searcher := &fakeSearcher{calls: make(chan string, 4)}
	s := New(newStore(t, "1"), readySettings(), searcher, &fakeFetcher{}, zaptest.NewLogger(t))
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	waitForCall(t, searcher.calls)
	s.Kick()
	waitForCall(t, searcher.calls)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func waitForCall(t *testing.T, calls <-chan string) {
	t.Helper()
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a tracker search")
	}
}
