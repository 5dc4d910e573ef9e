package task

import (
	"bgdownloader/internal/cache"
	"bgdownloader/internal/downloader"
)

// HandleNotification reconciles a download the engine reported as finished.
// Notifications for unknown or already reconciled handles are dropped.
func (m *Manager) HandleNotification(handle string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().Str("handle", handle).Interface("panic", r).Msg("Reconcile panicked")
		}
	}()
	m.reconcile(handle)
}

// reconcile settles a terminal download. Both the notifier and the pollers
// call it, possibly at the same time for the same handle; only the first
// caller to see a terminal status emits an event.
func (m *Manager) reconcile(handle string) {
	m.mu.Lock()
	cfg, ok := m.store.LookupByHandle(handle)
	if !ok || m.finished[handle] {
		m.mu.Unlock()
		return
	}
	// no progress may follow the terminal event
	m.stopTracking(cfg.ID)
	m.mu.Unlock()

	st, err := m.engine.Status(m.ctx, handle)
	if err != nil || !st.State.IsTerminal() {
		if err != nil {
			m.logger.Warn().Err(err).Str("id", cfg.ID).Str("handle", handle).Msg("Status query failed during reconcile")
		}
		m.rearm(cfg.ID, handle)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active(cfg.ID, handle) {
		return
	}
	m.finished[handle] = true
	m.begin(handle, st)

	if st.State == downloader.StateSucceeded {
		m.complete(cfg, st)
		return
	}

	m.logger.Info().Str("id", cfg.ID).Int("code", st.ReasonCode).Str("reason", st.ReasonText).Msg("Download failed")
	m.emit(EventFailed, FailedEvent{
		ID:           cfg.ID,
		ErrorCode:    st.ReasonCode,
		ErrorMessage: st.ReasonText,
	})
}

// rearm resumes polling a task whose terminal state could not be confirmed.
func (m *Manager) rearm(id, handle string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active(id, handle) {
		return
	}
	if _, tracked := m.trackers[id]; tracked {
		return
	}
	m.track(id, handle)
}

// active reports whether handle is still the live, unreconciled handle for id.
// Callers hold mu.
func (m *Manager) active(id, handle string) bool {
	h, ok := m.store.LookupByID(id)
	return ok && h == handle && !m.finished[handle]
}

// lost fails a download the engine no longer knows about, e.g. after aria2
// restarted without its session file.
func (m *Manager) lost(id string, t *tracker) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.current(id, t) || !m.active(id, t.handle) {
		return
	}
	m.stopTracking(id)
	m.finished[t.handle] = true
	m.begin(t.handle, &downloader.Status{})

	m.logger.Warn().Str("id", id).Str("handle", t.handle).Msg("Download lost by engine")
	m.emit(EventFailed, FailedEvent{
		ID:           id,
		ErrorCode:    cache.ErrorFileNotFound,
		ErrorMessage: "download is no longer known to the engine",
	})
}

// complete moves the finished file into place and emits the outcome.
// Callers hold mu.
func (m *Manager) complete(cfg TaskConfig, st *downloader.Status) {
	if err := cache.Deliver(st.ResultLocation, cfg.DestinationPath); err != nil {
		code := cache.ClassifyError(err)
		m.logger.Error().Err(err).Str("id", cfg.ID).Str("from", st.ResultLocation).Str("to", cfg.DestinationPath).Msg("Failed to deliver download")
		m.emit(EventFailed, FailedEvent{
			ID:           cfg.ID,
			ErrorCode:    code,
			ErrorMessage: err.Error(),
		})
		return
	}

	m.logger.Info().Str("id", cfg.ID).Str("location", cfg.DestinationPath).Int64("bytes", st.BytesTotal).Msg("Download complete")
	m.emit(EventComplete, CompleteEvent{
		ID:              cfg.ID,
		Location:        cfg.DestinationPath,
		BytesDownloaded: st.BytesDownloaded,
		BytesTotal:      st.BytesTotal,
	})
}
