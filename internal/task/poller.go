package task

import (
	"context"
	"errors"

	"bgdownloader/internal/downloader"
)

// Consecutive not-found answers after which a download is treated as lost.
const missingLimit = 10

// poll drives one task from pending through begin and observation until it
// reaches a terminal state or is torn down.
func (m *Manager) poll(ctx context.Context, id string, t *tracker) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Str("id", id).Interface("panic", r).Msg("Poller panicked")
		}
	}()

	st, ok := m.awaitStart(ctx, id, t)
	if !ok {
		return
	}

	m.reportBegin(id, t, st)

	if st.State.IsTerminal() {
		m.reconcile(t.handle)
		return
	}
	m.sample(id, t, st)
	m.observe(ctx, id, t)
}

// awaitStart polls until the download leaves pending/paused. It returns false
// when ctx is canceled first.
func (m *Manager) awaitStart(ctx context.Context, id string, t *tracker) (*downloader.Status, bool) {
	ticker := m.clock.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	missing := 0
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-ticker.Chan():
		}

		st, done := m.queryStatus(ctx, id, t, &missing)
		if done {
			return nil, false
		}
		if st == nil {
			continue
		}
		if st.State != downloader.StatePending && st.State != downloader.StatePaused {
			return st, true
		}
	}
}

// reportBegin emits downloadBegin once per task. The flag is persisted before
// the event goes out so a restart never repeats it.
func (m *Manager) reportBegin(id string, t *tracker, st *downloader.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.current(id, t) {
		return
	}
	m.begin(t.handle, st)
}

// begin emits downloadBegin for handle unless it already went out. Callers hold mu.
func (m *Manager) begin(handle string, st *downloader.Status) {
	cfg, ok := m.store.LookupByHandle(handle)
	if !ok || cfg.ReportedBegin {
		return
	}
	m.store.MarkReportedBegin(m.ctx, handle)
	m.emit(EventBegin, BeginEvent{
		ID:              cfg.ID,
		Metadata:        cfg.Metadata,
		SourceURL:       cfg.SourceURL,
		DestinationPath: cfg.DestinationPath,
		ExpectedBytes:   st.BytesTotal,
	})
}

func (m *Manager) observe(ctx context.Context, id string, t *tracker) {
	ticker := m.clock.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	missing := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		st, done := m.queryStatus(ctx, id, t, &missing)
		if done {
			return
		}
		if st == nil {
			continue
		}
		if st.State.IsTerminal() {
			m.reconcile(t.handle)
			return
		}
		m.sample(id, t, st)
	}
}

// queryStatus asks the engine for t's status. A nil status with done false
// means the query failed and the caller should try again next tick. done is
// true when the poller should exit, either because ctx ended or because the
// engine kept reporting the download as unknown and it was failed as lost.
func (m *Manager) queryStatus(ctx context.Context, id string, t *tracker, missing *int) (*downloader.Status, bool) {
	st, err := m.engine.Status(ctx, t.handle)
	if err == nil {
		*missing = 0
		return st, false
	}
	if ctx.Err() != nil {
		return nil, true
	}

	if errors.Is(err, downloader.ErrNotFound) {
		*missing++
		if *missing >= missingLimit {
			m.lost(id, t)
			return nil, true
		}
		if *missing > 1 {
			m.logger.Debug().Str("id", id).Str("handle", t.handle).Int("attempts", *missing).Msg("Download still unknown to engine")
			return nil, false
		}
	}
	m.logger.Warn().Err(err).Str("id", id).Str("handle", t.handle).Msg("Status query failed")
	return nil, false
}

func (m *Manager) sample(id string, t *tracker, st *downloader.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.current(id, t) {
		return
	}
	if batch := m.progress.Sample(id, st.BytesDownloaded, st.BytesTotal); len(batch) > 0 {
		m.emit(EventProgress, batch)
	}
}
