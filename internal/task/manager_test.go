package task

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bgdownloader/internal/cache"
	"bgdownloader/internal/downloader"
)

const testPoll = 5 * time.Millisecond

type fakeEngine struct {
	mu          sync.Mutex
	next        int
	statuses    map[string]downloader.Status
	enqueued    []downloader.Request
	canceled    []string
	paused      []string
	resumed     []string
	statusCalls map[string]int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		statuses:    make(map[string]downloader.Status),
		statusCalls: make(map[string]int),
	}
}

func (f *fakeEngine) Enqueue(_ context.Context, req downloader.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	handle := fmt.Sprintf("h%d", f.next)
	f.statuses[handle] = downloader.Status{Handle: handle, State: downloader.StatePending}
	f.enqueued = append(f.enqueued, req)
	return handle, nil
}

func (f *fakeEngine) Status(_ context.Context, handle string) (*downloader.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls[handle]++
	st, ok := f.statuses[handle]
	if !ok {
		return nil, downloader.ErrNotFound
	}
	return &st, nil
}

func (f *fakeEngine) Cancel(_ context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, handle)
	delete(f.statuses, handle)
	return nil
}

func (f *fakeEngine) Pause(_ context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = append(f.paused, handle)
	return nil
}

func (f *fakeEngine) Resume(_ context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed = append(f.resumed, handle)
	return nil
}

func (f *fakeEngine) List(context.Context) ([]downloader.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]downloader.Status, 0, len(f.statuses))
	for _, st := range f.statuses {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out, nil
}

func (f *fakeEngine) set(handle string, state downloader.State, downloaded, total int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.statuses[handle]
	st.Handle = handle
	st.State = state
	st.BytesDownloaded = downloaded
	st.BytesTotal = total
	f.statuses[handle] = st
}

func (f *fakeEngine) setStatus(st downloader.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[st.Handle] = st
}

func (f *fakeEngine) forget(handle string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.statuses, handle)
}

// cancelOnEnqueue ends the caller's context as soon as the engine accepts
// the download, like a client hanging up mid-request.
type cancelOnEnqueue struct {
	*fakeEngine
	cancel context.CancelFunc
}

func (e *cancelOnEnqueue) Enqueue(ctx context.Context, req downloader.Request) (string, error) {
	handle, err := e.fakeEngine.Enqueue(ctx, req)
	e.cancel()
	return handle, err
}

func (f *fakeEngine) calls(handle string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls[handle]
}

func (f *fakeEngine) canceledHandles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.canceled...)
}

type event struct {
	name    string
	payload interface{}
}

type recordingSink struct {
	mu     sync.Mutex
	events []event
}

func (s *recordingSink) Broadcast(name string, payload interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event{name: name, payload: payload})
	return nil
}

func (s *recordingSink) all() []event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event(nil), s.events...)
}

func (s *recordingSink) named(name string) []event {
	var out []event
	for _, e := range s.all() {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

func newTestManager(t *testing.T, engine Engine, db *sql.DB, opts Options) (*Manager, *recordingSink) {
	t.Helper()
	if opts.PollInterval == 0 {
		opts.PollInterval = testPoll
	}
	sink := &recordingSink{}
	m, err := NewManager(context.Background(), engine, newTestStore(t, db), sink, zerolog.New(zerolog.NewTestWriter(t)), opts)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, sink
}

func waitForEvents(t *testing.T, sink *recordingSink, name string, n int) []event {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(sink.named(name)) >= n
	}, 2*time.Second, time.Millisecond)
	return sink.named(name)
}

func TestManager_StartRejectsMissingFields(t *testing.T) {
	engine := newFakeEngine()
	m, sink := newTestManager(t, engine, setupTestDB(t), Options{})

	for _, req := range []StartRequest{
		{URL: "http://x/f.zip", Destination: "/d/f.zip"},
		{ID: "a", Destination: "/d/f.zip"},
		{ID: "a", URL: "http://x/f.zip"},
	} {
		assert.ErrorIs(t, m.Start(context.Background(), req), ErrMissingField)
	}

	assert.Empty(t, engine.enqueued)
	assert.Empty(t, sink.all())
}

func TestManager_StartEnqueuesWithStagingAndHeaders(t *testing.T) {
	engine := newFakeEngine()
	m, _ := newTestManager(t, engine, setupTestDB(t), Options{
		StagingDir:     "/staging",
		DefaultHeaders: map[string]string{"User-Agent": "bg", "Accept": "*/*"},
	})

	require.NoError(t, m.Start(context.Background(), StartRequest{
		ID: "a", URL: "http://x/f.zip", Destination: "/d/f.zip",
		Headers:     map[string]string{"Accept": "application/zip"},
		Connections: 4,
	}))

	require.Len(t, engine.enqueued, 1)
	req := engine.enqueued[0]
	assert.Equal(t, "http://x/f.zip", req.URL)
	assert.Equal(t, "/staging", req.Dir)
	assert.Equal(t, ".zip", filepath.Ext(req.Out))
	assert.Equal(t, map[string]string{"User-Agent": "bg", "Accept": "application/zip"}, req.Headers)
	assert.Equal(t, 4, req.Connections)
}

func TestManager_BeginThenPendingProgress(t *testing.T) {
	engine := newFakeEngine()
	m, sink := newTestManager(t, engine, setupTestDB(t), Options{})

	require.NoError(t, m.Start(context.Background(), StartRequest{
		ID: "a", URL: "http://x/f.zip", Destination: "/d/f.zip", Metadata: "meta",
	}))
	engine.set("h1", downloader.StateRunning, 50, 100)

	begins := waitForEvents(t, sink, EventBegin, 1)
	assert.Equal(t, BeginEvent{
		ID: "a", Metadata: "meta", SourceURL: "http://x/f.zip", DestinationPath: "/d/f.zip", ExpectedBytes: 100,
	}, begins[0].payload)

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.progress.pending["a"] == ProgressReport{ID: "a", BytesDownloaded: 50, BytesTotal: 100}
	}, 2*time.Second, time.Millisecond)

	time.Sleep(10 * testPoll)
	assert.Len(t, sink.named(EventBegin), 1)
}

func TestManager_ProgressIsBatched(t *testing.T) {
	engine := newFakeEngine()
	m, sink := newTestManager(t, engine, setupTestDB(t), Options{})

	require.NoError(t, m.Start(context.Background(), StartRequest{
		ID: "a", URL: "http://x/f.zip", Destination: "/d/f.zip", ProgressInterval: 20,
	}))
	engine.set("h1", downloader.StateRunning, 50, 100)

	batches := waitForEvents(t, sink, EventProgress, 1)
	assert.Equal(t, []ProgressReport{{ID: "a", BytesDownloaded: 50, BytesTotal: 100}}, batches[0].payload)
}

func TestManager_SuccessMovesFileAndEndsProgress(t *testing.T) {
	dir := t.TempDir()
	staged := filepath.Join(dir, "staging", "123.zip")
	dest := filepath.Join(dir, "d", "f.zip")
	require.NoError(t, os.MkdirAll(filepath.Dir(staged), 0o755))
	require.NoError(t, os.WriteFile(staged, []byte("payload"), 0o644))

	engine := newFakeEngine()
	m, sink := newTestManager(t, engine, setupTestDB(t), Options{})

	require.NoError(t, m.Start(context.Background(), StartRequest{
		ID: "a", URL: "http://x/f.zip", Destination: dest, ProgressInterval: 1,
	}))
	engine.set("h1", downloader.StateRunning, 50, 100)
	waitForEvents(t, sink, EventBegin, 1)

	engine.setStatus(downloader.Status{
		Handle: "h1", State: downloader.StateSucceeded, BytesDownloaded: 100, BytesTotal: 100, ResultLocation: staged,
	})
	m.HandleNotification("h1")

	completes := waitForEvents(t, sink, EventComplete, 1)
	assert.Equal(t, CompleteEvent{ID: "a", Location: dest, BytesDownloaded: 100, BytesTotal: 100}, completes[0].payload)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assert.False(t, cache.FileExists(staged))

	// duplicate notification and the polling fallback are both no-ops now
	m.HandleNotification("h1")
	time.Sleep(10 * testPoll)

	events := sink.all()
	assert.Len(t, sink.named(EventComplete), 1)
	assert.Equal(t, EventComplete, events[len(events)-1].name, "no event may follow the terminal event")
	assert.Equal(t, EventBegin, events[0].name)
}

func TestManager_PollingFallbackReconciles(t *testing.T) {
	engine := newFakeEngine()
	m, sink := newTestManager(t, engine, setupTestDB(t), Options{})

	require.NoError(t, m.Start(context.Background(), StartRequest{ID: "a", URL: "http://x/f.zip", Destination: "/d/f.zip"}))
	engine.set("h1", downloader.StateRunning, 10, 100)
	waitForEvents(t, sink, EventBegin, 1)

	engine.setStatus(downloader.Status{
		Handle: "h1", State: downloader.StateFailed, BytesDownloaded: 10, BytesTotal: 100, ReasonCode: 3, ReasonText: "Resource not found",
	})

	failures := waitForEvents(t, sink, EventFailed, 1)
	assert.Equal(t, FailedEvent{ID: "a", ErrorCode: 3, ErrorMessage: "Resource not found"}, failures[0].payload)

	// the entry stays until acknowledged
	m.mu.Lock()
	_, ok := m.store.LookupByID("a")
	m.mu.Unlock()
	assert.True(t, ok)
}

func TestManager_AlreadyTerminalStillBegins(t *testing.T) {
	dir := t.TempDir()
	staged := filepath.Join(dir, "123.bin")
	require.NoError(t, os.WriteFile(staged, []byte("x"), 0o644))

	engine := newFakeEngine()
	m, sink := newTestManager(t, engine, setupTestDB(t), Options{})

	require.NoError(t, m.Start(context.Background(), StartRequest{ID: "a", URL: "http://x/f.bin", Destination: filepath.Join(dir, "f.bin")}))
	engine.setStatus(downloader.Status{
		Handle: "h1", State: downloader.StateSucceeded, BytesDownloaded: 1, BytesTotal: 1, ResultLocation: staged,
	})

	waitForEvents(t, sink, EventComplete, 1)
	events := sink.all()
	require.Len(t, events, 2)
	assert.Equal(t, EventBegin, events[0].name)
	assert.Equal(t, EventComplete, events[1].name)
}

func TestManager_DeliveryFailureEmitsFailed(t *testing.T) {
	dir := t.TempDir()
	engine := newFakeEngine()
	m, sink := newTestManager(t, engine, setupTestDB(t), Options{})

	require.NoError(t, m.Start(context.Background(), StartRequest{ID: "a", URL: "http://x/f.zip", Destination: filepath.Join(dir, "f.zip")}))
	engine.setStatus(downloader.Status{
		Handle: "h1", State: downloader.StateSucceeded, BytesDownloaded: 1, BytesTotal: 1, ResultLocation: filepath.Join(dir, "missing.zip"),
	})
	m.HandleNotification("h1")

	failures := waitForEvents(t, sink, EventFailed, 1)
	assert.Equal(t, cache.ErrorFileNotFound, failures[0].payload.(FailedEvent).ErrorCode)
	assert.Empty(t, sink.named(EventComplete))
}

func TestManager_NonTerminalNotificationKeepsPolling(t *testing.T) {
	engine := newFakeEngine()
	m, sink := newTestManager(t, engine, setupTestDB(t), Options{})

	require.NoError(t, m.Start(context.Background(), StartRequest{ID: "a", URL: "http://x/f.zip", Destination: "/d/f.zip"}))
	engine.set("h1", downloader.StateRunning, 10, 100)
	waitForEvents(t, sink, EventBegin, 1)

	m.HandleNotification("h1")

	before := engine.calls("h1")
	require.Eventually(t, func() bool { return engine.calls("h1") > before+2 }, 2*time.Second, time.Millisecond)

	m.mu.Lock()
	_, tracked := m.trackers["a"]
	m.mu.Unlock()
	assert.True(t, tracked)
	assert.Empty(t, sink.named(EventComplete))
	assert.Empty(t, sink.named(EventFailed))
}

func TestManager_CancelMakesNotificationNoop(t *testing.T) {
	engine := newFakeEngine()
	m, sink := newTestManager(t, engine, setupTestDB(t), Options{})
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, StartRequest{ID: "a", URL: "http://x/f.zip", Destination: "/d/f.zip"}))
	m.Cancel(ctx, "a")
	m.Cancel(ctx, "a")
	m.Cancel(ctx, "unknown")

	assert.Equal(t, []string{"h1"}, engine.canceledHandles())

	engine.setStatus(downloader.Status{Handle: "h1", State: downloader.StateFailed, ReasonText: "download removed"})
	m.HandleNotification("h1")
	time.Sleep(10 * testPoll)

	assert.Empty(t, sink.all())
	assert.Empty(t, m.EnumerateExisting(ctx))
}

func TestManager_AcknowledgeRemovesTask(t *testing.T) {
	engine := newFakeEngine()
	m, sink := newTestManager(t, engine, setupTestDB(t), Options{})
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, StartRequest{ID: "a", URL: "http://x/f.zip", Destination: "/d/f.zip"}))
	engine.setStatus(downloader.Status{Handle: "h1", State: downloader.StateFailed, ReasonCode: 1})
	waitForEvents(t, sink, EventFailed, 1)

	m.Acknowledge(ctx, "a")

	m.mu.Lock()
	_, ok := m.store.LookupByID("a")
	m.mu.Unlock()
	assert.False(t, ok)
	assert.Contains(t, engine.canceledHandles(), "h1")
}

func TestManager_EnumerateCancelsOrphans(t *testing.T) {
	engine := newFakeEngine()
	m, _ := newTestManager(t, engine, setupTestDB(t), Options{})
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, StartRequest{ID: "a", URL: "http://x/f.zip", Destination: "/d/f.zip", Metadata: "m"}))
	engine.set("h1", downloader.StatePaused, 30, 100)
	engine.setStatus(downloader.Status{Handle: "orphan", State: downloader.StateRunning, BytesDownloaded: 1, BytesTotal: 2})

	snapshots := m.EnumerateExisting(ctx)
	assert.Equal(t, []Snapshot{{ID: "a", Metadata: "m", State: TaskSuspended, BytesDownloaded: 30, BytesTotal: 100}}, snapshots)
	assert.Equal(t, []string{"orphan"}, engine.canceledHandles())

	m.mu.Lock()
	p, _ := m.progress.Percent("a")
	m.mu.Unlock()
	assert.InDelta(t, 0.3, p, 1e-9)
}

func TestManager_RestartResumesWithoutRepeatingBegin(t *testing.T) {
	db := setupTestDB(t)
	engine := newFakeEngine()
	ctx := context.Background()

	first, sink := newTestManager(t, engine, db, Options{})
	require.NoError(t, first.Start(ctx, StartRequest{ID: "a", URL: "http://x/a.zip", Destination: "/d/a.zip"}))
	require.NoError(t, first.Start(ctx, StartRequest{ID: "b", URL: "http://x/b.zip", Destination: "/d/b.zip"}))
	engine.set("h1", downloader.StateRunning, 10, 100)
	engine.set("h2", downloader.StateRunning, 20, 100)
	waitForEvents(t, sink, EventBegin, 2)
	first.Close()

	before1, before2 := engine.calls("h1"), engine.calls("h2")
	engine.set("h1", downloader.StateRunning, 60, 100)
	engine.set("h2", downloader.StateRunning, 70, 100)

	second, sink2 := newTestManager(t, engine, db, Options{})
	require.Eventually(t, func() bool {
		return engine.calls("h1") > before1+3 && engine.calls("h2") > before2+3
	}, 2*time.Second, time.Millisecond)

	second.mu.Lock()
	assert.Len(t, second.trackers, 2)
	second.mu.Unlock()
	assert.Empty(t, sink2.named(EventBegin))
}

func TestManager_RestartRedeliversUnacknowledgedResult(t *testing.T) {
	dir := t.TempDir()
	staged := filepath.Join(dir, "123.zip")
	dest := filepath.Join(dir, "f.zip")
	require.NoError(t, os.WriteFile(staged, []byte("x"), 0o644))

	db := setupTestDB(t)
	engine := newFakeEngine()

	first, sink := newTestManager(t, engine, db, Options{})
	require.NoError(t, first.Start(context.Background(), StartRequest{ID: "a", URL: "http://x/f.zip", Destination: dest}))
	engine.setStatus(downloader.Status{Handle: "h1", State: downloader.StateSucceeded, BytesDownloaded: 1, BytesTotal: 1, ResultLocation: staged})
	waitForEvents(t, sink, EventComplete, 1)
	first.Close()

	_, sink2 := newTestManager(t, engine, db, Options{})
	completes := waitForEvents(t, sink2, EventComplete, 1)
	assert.Equal(t, dest, completes[0].payload.(CompleteEvent).Location)
	assert.Empty(t, sink2.named(EventBegin))
}

func TestManager_ProgressIntervalOverridePersists(t *testing.T) {
	db := setupTestDB(t)
	engine := newFakeEngine()

	first, _ := newTestManager(t, engine, db, Options{})
	require.NoError(t, first.Start(context.Background(), StartRequest{
		ID: "a", URL: "http://x/f.zip", Destination: "/d/f.zip", ProgressInterval: 250,
	}))
	first.Close()

	second, _ := newTestManager(t, engine, db, Options{})
	second.mu.Lock()
	defer second.mu.Unlock()
	assert.Equal(t, 250*time.Millisecond, second.progress.Interval())
}

func TestManager_RestartSameIDReplacesDownload(t *testing.T) {
	engine := newFakeEngine()
	m, sink := newTestManager(t, engine, setupTestDB(t), Options{})
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, StartRequest{ID: "a", URL: "http://x/f.zip", Destination: "/d/f.zip"}))
	engine.set("h1", downloader.StateRunning, 10, 100)
	waitForEvents(t, sink, EventBegin, 1)

	require.NoError(t, m.Start(ctx, StartRequest{ID: "a", URL: "http://x/f.zip", Destination: "/d/f.zip"}))
	engine.set("h2", downloader.StateRunning, 10, 100)
	time.Sleep(10 * testPoll)

	assert.Equal(t, []string{"h1"}, engine.canceledHandles())
	assert.Len(t, sink.named(EventBegin), 1)

	m.mu.Lock()
	handle, _ := m.store.LookupByID("a")
	m.mu.Unlock()
	assert.Equal(t, "h2", handle)
}

func TestManager_PauseResume(t *testing.T) {
	engine := newFakeEngine()
	m, _ := newTestManager(t, engine, setupTestDB(t), Options{})
	ctx := context.Background()

	require.NoError(t, m.Pause(ctx, "unknown"))
	require.NoError(t, m.Start(ctx, StartRequest{ID: "a", URL: "http://x/f.zip", Destination: "/d/f.zip"}))
	require.NoError(t, m.Pause(ctx, "a"))
	require.NoError(t, m.Resume(ctx, "a"))

	assert.Equal(t, []string{"h1"}, engine.paused)
	assert.Equal(t, []string{"h1"}, engine.resumed)
}

func TestManager_Constants(t *testing.T) {
	m, _ := newTestManager(t, newFakeEngine(), setupTestDB(t), Options{DocumentsDir: "/docs"})

	c := m.Constants()
	assert.Equal(t, "/docs", c.DocumentsDir)
	assert.Equal(t, TaskCompleted, c.TaskCompleted)
	assert.Equal(t, 100, c.ErrorOthers)
}

func TestStateFromEngine(t *testing.T) {
	assert.Equal(t, TaskRunning, StateFromEngine(downloader.StatePending))
	assert.Equal(t, TaskRunning, StateFromEngine(downloader.StateRunning))
	assert.Equal(t, TaskSuspended, StateFromEngine(downloader.StatePaused))
	assert.Equal(t, TaskCanceling, StateFromEngine(downloader.StateFailed))
	assert.Equal(t, TaskCompleted, StateFromEngine(downloader.StateSucceeded))
}

func TestManager_StartPersistsAfterCallerCancels(t *testing.T) {
	db := setupTestDB(t)
	engine := newFakeEngine()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, _ := newTestManager(t, &cancelOnEnqueue{fakeEngine: engine, cancel: cancel}, db, Options{})
	require.NoError(t, first.Start(ctx, StartRequest{
		ID: "a", URL: "http://x/f.zip", Destination: "/d/f.zip", ProgressInterval: 250,
	}))
	require.Error(t, ctx.Err())
	first.Close()

	second, _ := newTestManager(t, engine, db, Options{})
	snapshots := second.EnumerateExisting(context.Background())
	require.Len(t, snapshots, 1)
	assert.Equal(t, "a", snapshots[0].ID)
	assert.Empty(t, engine.canceledHandles())

	second.mu.Lock()
	assert.Equal(t, 250*time.Millisecond, second.progress.Interval())
	second.mu.Unlock()
}

func TestManager_CancelPersistsAfterCallerCancels(t *testing.T) {
	db := setupTestDB(t)
	engine := newFakeEngine()

	first, _ := newTestManager(t, engine, db, Options{})
	require.NoError(t, first.Start(context.Background(), StartRequest{ID: "a", URL: "http://x/f.zip", Destination: "/d/f.zip"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	first.Cancel(ctx, "a")
	first.Close()

	second, _ := newTestManager(t, engine, db, Options{})
	second.mu.Lock()
	defer second.mu.Unlock()
	_, ok := second.store.LookupByID("a")
	assert.False(t, ok)
}

func TestManager_LostDownloadFails(t *testing.T) {
	engine := newFakeEngine()
	m, sink := newTestManager(t, engine, setupTestDB(t), Options{})

	require.NoError(t, m.Start(context.Background(), StartRequest{ID: "a", URL: "http://x/f.zip", Destination: "/d/f.zip"}))
	engine.set("h1", downloader.StateRunning, 10, 100)
	waitForEvents(t, sink, EventBegin, 1)

	// engine restarted without its session
	engine.forget("h1")

	failures := waitForEvents(t, sink, EventFailed, 1)
	assert.Equal(t, "a", failures[0].payload.(FailedEvent).ID)
	assert.Equal(t, cache.ErrorFileNotFound, failures[0].payload.(FailedEvent).ErrorCode)

	calls := engine.calls("h1")
	time.Sleep(10 * testPoll)
	assert.Equal(t, calls, engine.calls("h1"), "lost downloads are no longer polled")
	assert.Len(t, sink.named(EventFailed), 1)

	m.mu.Lock()
	_, ok := m.store.LookupByID("a")
	m.mu.Unlock()
	assert.True(t, ok, "the entry stays until acknowledged")
}
