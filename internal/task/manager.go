package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"bgdownloader/internal/cache"
	"bgdownloader/internal/downloader"
)

var ErrMissingField = errors.New("id, url and destination are required")

// Engine is the download engine the manager delegates transfers to.
type Engine interface {
	Enqueue(ctx context.Context, req downloader.Request) (string, error)
	Status(ctx context.Context, handle string) (*downloader.Status, error)
	Cancel(ctx context.Context, handle string) error
	Pause(ctx context.Context, handle string) error
	Resume(ctx context.Context, handle string) error
	List(ctx context.Context) ([]downloader.Status, error)
}

// Broadcaster receives download events.
type Broadcaster interface {
	Broadcast(msgType string, payload interface{}) error
}

type Options struct {
	PollInterval   time.Duration
	StagingDir     string
	DocumentsDir   string
	DefaultHeaders map[string]string
	Clock          clockwork.Clock
}

// StartRequest describes a download to start.
type StartRequest struct {
	ID          string            `json:"id"`
	URL         string            `json:"url"`
	Destination string            `json:"destination"`
	Metadata    string            `json:"metadata"`
	Headers     map[string]string `json:"headers"`

	// ProgressInterval overrides the batch interval for every task, in milliseconds.
	ProgressInterval int64 `json:"progressInterval"`

	Connections   int   `json:"connections"`
	MaxSpeedBytes int64 `json:"maxSpeedBytes"`
	Paused        bool  `json:"paused"`
}

// Constants are the values clients need to interpret events.
type Constants struct {
	DocumentsDir string `json:"documents"`

	TaskRunning   TaskState `json:"TaskRunning"`
	TaskSuspended TaskState `json:"TaskSuspended"`
	TaskCanceling TaskState `json:"TaskCanceling"`
	TaskCompleted TaskState `json:"TaskCompleted"`

	ErrorStorageFull       int `json:"ErrorStorageFull"`
	ErrorNoInternet        int `json:"ErrorNoInternet"`
	ErrorNoWritePermission int `json:"ErrorNoWritePermission"`
	ErrorFileNotFound      int `json:"ErrorFileNotFound"`
	ErrorOthers            int `json:"ErrorOthers"`
}

type tracker struct {
	handle string
	cancel context.CancelFunc
}

// Manager tracks active downloads. Every piece of shared state is guarded
// by mu; engine status queries from pollers and the reconciler run outside it.
type Manager struct {
	mu       sync.Mutex
	engine   Engine
	store    *Store
	sink     Broadcaster
	progress *Aggregator
	clock    clockwork.Clock
	logger   zerolog.Logger
	opts     Options

	trackers map[string]*tracker // by task id
	finished map[string]bool     // handles reconciled in this process
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager loads every persisted task and resumes observing it.
func NewManager(ctx context.Context, engine Engine, store *Store, sink Broadcaster, logger zerolog.Logger, opts Options) (*Manager, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	m := &Manager{
		engine:   engine,
		store:    store,
		sink:     sink,
		clock:    opts.Clock,
		logger:   logger.With().Str("component", "tasks").Logger(),
		opts:     opts,
		trackers: make(map[string]*tracker),
		finished: make(map[string]bool),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	m.mu.Lock()
	defer m.mu.Unlock()

	m.progress = NewAggregator(m.clock, store.ProgressInterval(ctx))

	configs, err := store.LoadAll(ctx)
	if err != nil {
		m.cancel()
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	for handle, cfg := range configs {
		m.progress.Reset(cfg.ID)
		m.track(cfg.ID, handle)
	}
	m.logger.Info().Int("tasks", len(configs)).Dur("progressInterval", m.progress.Interval()).Msg("Resumed persisted tasks")

	return m, nil
}

// Start enqueues a download and begins observing it.
func (m *Manager) Start(ctx context.Context, req StartRequest) error {
	if req.ID == "" || req.URL == "" || req.Destination == "" {
		m.logger.Warn().Str("id", req.ID).Str("url", req.URL).Str("destination", req.Destination).Msg("Rejecting download with missing fields")
		return ErrMissingField
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if req.ProgressInterval > 0 {
		d := time.Duration(req.ProgressInterval) * time.Millisecond
		m.progress.SetInterval(d)
		m.store.SetProgressInterval(ctx, d)
	}

	reportedBegin := false
	if old, ok := m.store.LookupByID(req.ID); ok {
		if cfg, ok := m.store.LookupByHandle(old); ok {
			reportedBegin = cfg.ReportedBegin
		}
		m.stopTracking(req.ID)
		if err := m.engine.Cancel(ctx, old); err != nil && !errors.Is(err, downloader.ErrNotFound) {
			m.logger.Warn().Err(err).Str("id", req.ID).Str("handle", old).Msg("Failed to cancel replaced download")
		}
	}

	handle, err := m.engine.Enqueue(ctx, downloader.Request{
		URL:           req.URL,
		Dir:           m.opts.StagingDir,
		Out:           cache.StagingName(req.Destination),
		Headers:       mergeHeaders(m.opts.DefaultHeaders, req.Headers),
		Connections:   req.Connections,
		MaxSpeedBytes: req.MaxSpeedBytes,
		Paused:        req.Paused,
	})
	if err != nil {
		m.logger.Error().Err(err).Str("id", req.ID).Str("url", req.URL).Msg("Failed to enqueue download")
		return fmt.Errorf("enqueue %s: %w", req.ID, err)
	}

	m.store.Put(ctx, handle, TaskConfig{
		ID:              req.ID,
		SourceURL:       req.URL,
		DestinationPath: req.Destination,
		Metadata:        req.Metadata,
		ReportedBegin:   reportedBegin,
		CreatedAt:       m.clock.Now().UTC(),
	})
	m.progress.Reset(req.ID)
	m.track(req.ID, handle)

	m.logger.Info().Str("id", req.ID).Str("handle", handle).Msg("Download started")
	return nil
}

// Cancel stops a download and forgets it. Unknown ids are ignored.
func (m *Manager) Cancel(ctx context.Context, id string) {
	m.release(ctx, id, "canceled")
}

// Acknowledge forgets a download whose terminal result the caller has
// consumed and removes it from the engine.
func (m *Manager) Acknowledge(ctx context.Context, id string) {
	m.release(ctx, id, "acknowledged")
}

func (m *Manager) release(ctx context.Context, id, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	handle, ok := m.store.LookupByID(id)
	if !ok {
		return
	}
	m.store.Remove(ctx, handle)
	m.stopTracking(id)
	delete(m.finished, handle)

	if err := m.engine.Cancel(ctx, handle); err != nil && !errors.Is(err, downloader.ErrNotFound) {
		m.logger.Warn().Err(err).Str("id", id).Str("handle", handle).Msg("Failed to remove download from engine")
	}
	m.logger.Info().Str("id", id).Str("handle", handle).Msg("Download " + reason)
}

func (m *Manager) Pause(ctx context.Context, id string) error {
	return m.withHandle(id, func(handle string) error {
		return m.engine.Pause(ctx, handle)
	})
}

func (m *Manager) Resume(ctx context.Context, id string) error {
	return m.withHandle(id, func(handle string) error {
		return m.engine.Resume(ctx, handle)
	})
}

func (m *Manager) withHandle(id string, fn func(handle string) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	handle, ok := m.store.LookupByID(id)
	if !ok {
		return nil
	}
	if err := fn(handle); err != nil {
		m.logger.Warn().Err(err).Str("id", id).Str("handle", handle).Msg("Engine request failed")
		return err
	}
	return nil
}

// EnumerateExisting reports every engine download that belongs to a known
// task and cancels the rest.
func (m *Manager) EnumerateExisting(ctx context.Context) []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshots := []Snapshot{}
	list, err := m.engine.List(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to list engine downloads")
		return snapshots
	}

	for _, st := range list {
		cfg, ok := m.store.LookupByHandle(st.Handle)
		if !ok {
			m.logger.Info().Str("handle", st.Handle).Msg("Removing orphaned engine download")
			if err := m.engine.Cancel(ctx, st.Handle); err != nil && !errors.Is(err, downloader.ErrNotFound) {
				m.logger.Warn().Err(err).Str("handle", st.Handle).Msg("Failed to remove orphaned download")
			}
			continue
		}

		snapshots = append(snapshots, Snapshot{
			ID:              cfg.ID,
			Metadata:        cfg.Metadata,
			State:           StateFromEngine(st.State),
			BytesDownloaded: st.BytesDownloaded,
			BytesTotal:      st.BytesTotal,
		})
		if _, tracked := m.trackers[cfg.ID]; tracked {
			m.progress.Refresh(cfg.ID, st.BytesDownloaded, st.BytesTotal)
		}
	}
	return snapshots
}

func (m *Manager) Constants() Constants {
	return Constants{
		DocumentsDir:           m.opts.DocumentsDir,
		TaskRunning:            TaskRunning,
		TaskSuspended:          TaskSuspended,
		TaskCanceling:          TaskCanceling,
		TaskCompleted:          TaskCompleted,
		ErrorStorageFull:       cache.ErrorStorageFull,
		ErrorNoInternet:        cache.ErrorNoInternet,
		ErrorNoWritePermission: cache.ErrorNoWritePermission,
		ErrorFileNotFound:      cache.ErrorFileNotFound,
		ErrorOthers:            cache.ErrorOthers,
	}
}

// Close stops every poller and waits for them to exit. Persisted tasks are
// resumed by the next NewManager.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	for id := range m.trackers {
		m.stopTracking(id)
	}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

// track starts a poller for id. Callers hold mu.
func (m *Manager) track(id, handle string) {
	if m.closed {
		return
	}
	if t, ok := m.trackers[id]; ok {
		t.cancel()
	}
	ctx, cancel := context.WithCancel(m.ctx)
	t := &tracker{handle: handle, cancel: cancel}
	m.trackers[id] = t

	m.wg.Add(1)
	go m.poll(ctx, id, t)
}

// stopTracking tears down the poller and progress state for id. Callers hold mu.
func (m *Manager) stopTracking(id string) {
	if t, ok := m.trackers[id]; ok {
		t.cancel()
		delete(m.trackers, id)
	}
	m.progress.Forget(id)
}

// current reports whether t is still the live tracker for id. Callers hold mu.
func (m *Manager) current(id string, t *tracker) bool {
	return m.trackers[id] == t
}

// emit hands an event to the sink. Callers hold mu so events for one task
// stay ordered.
func (m *Manager) emit(name string, payload interface{}) {
	if err := m.sink.Broadcast(name, payload); err != nil {
		m.logger.Warn().Err(err).Str("event", name).Msg("Failed to deliver event")
	}
}

func mergeHeaders(defaults, overrides map[string]string) map[string]string {
	if len(defaults) == 0 && len(overrides) == 0 {
		return nil
	}
	out := make(map[string]string, len(defaults)+len(overrides))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}
