package heartbeat

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/steveyegge/swarm/internal/constants"
	"github.com/steveyegge/swarm/internal/engine"
	"github.com/steveyegge/swarm/internal/registry"
)

// Scheduler delivers due beats. It polls every 30 seconds and decides per
// heartbeat whether interval_seconds have elapsed since the last beat.
// Interval math runs on in-process instants (time.Time carries a monotonic
// reading), so wall-clock jumps don't double- or skip-beat.
type Scheduler struct {
	Store  *Store
	Engine *engine.Engine

	// Poll overrides the decision cadence (tests); zero uses the default.
	Poll time.Duration

	// Infof reports beats. Defaults to stdout.
	Infof func(format string, args ...interface{})
	// Warnf reports delivery problems. Defaults to stderr.
	Warnf func(format string, args ...interface{})

	// lastBeat holds the in-process instants of beats this scheduler has
	// delivered; a heartbeat not beaten here yet is judged by the store's
	// wall time.
	lastBeat map[string]time.Time
}

// NewScheduler creates a scheduler over the given store and engine.
func NewScheduler(store *Store, eng *engine.Engine) *Scheduler {
	return &Scheduler{
		Store:  store,
		Engine: eng,
		Infof: func(format string, args ...interface{}) {
			fmt.Printf(format+"\n", args...)
		},
		Warnf: func(format string, args ...interface{}) {
			fmt.Fprintf(os.Stderr, "swarm: warning: "+format+"\n", args...)
		},
		lastBeat: make(map[string]time.Time),
	}
}

// Run polls until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	poll := s.Poll
	if poll <= 0 {
		poll = constants.HeartbeatPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	s.Tick() // immediate first pass so a due beat isn't 30s late
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick runs one decision pass over all heartbeats.
func (s *Scheduler) Tick() {
	beats, err := s.Store.List()
	if err != nil {
		s.Warnf("listing heartbeats: %v", err)
		return
	}
	now := time.Now()
	for _, h := range beats {
		if h.Status != StatusActive {
			continue
		}
		if h.Expired(now) {
			s.transition(h.WorkerName, StatusExpired)
			continue
		}
		if !s.due(h, now) {
			continue
		}
		s.beat(h, now)
	}
}

// due decides whether a beat is owed, preferring the in-process instant over
// the persisted wall time.
func (s *Scheduler) due(h *Heartbeat, now time.Time) bool {
	if last, ok := s.lastBeat[h.WorkerName]; ok {
		return now.Sub(last) >= h.Interval()
	}
	if h.LastBeatAt == nil {
		return true // never beaten
	}
	return now.Sub(*h.LastBeatAt) >= h.Interval()
}

// beat verifies the worker is a live mux worker, sends the message, and
// updates the record. A dead worker stops the heartbeat.
func (s *Scheduler) beat(h *Heartbeat, now time.Time) {
	w, err := s.Engine.Registry.Get(h.WorkerName)
	if err != nil {
		s.transition(h.WorkerName, StatusStopped)
		return
	}
	if w.Mux == nil {
		s.Warnf("heartbeat %s: worker is not a mux worker; stopping", h.WorkerName)
		s.transition(h.WorkerName, StatusStopped)
		return
	}
	if s.Engine.RefreshStatus(w) != registry.StatusRunning {
		s.transition(h.WorkerName, StatusStopped)
		return
	}

	m := s.Engine.Mux(w.Mux.Socket)
	if err := m.SendLine(w.Mux.Session, w.Mux.Window, h.Message); err != nil {
		s.Warnf("heartbeat %s: delivering message: %v", h.WorkerName, err)
		return
	}

	s.lastBeat[h.WorkerName] = now
	if _, err := s.Store.Update(h.WorkerName, func(rec *Heartbeat) {
		rec.LastBeatAt = &now
		rec.BeatCount++
	}); err != nil {
		s.Warnf("heartbeat %s: recording beat: %v", h.WorkerName, err)
		return
	}
	s.Infof("heartbeat %s: beat %d delivered", h.WorkerName, h.BeatCount+1)
}

func (s *Scheduler) transition(worker string, status Status) {
	if _, err := s.Store.Update(worker, func(rec *Heartbeat) {
		rec.Status = status
	}); err != nil {
		s.Warnf("heartbeat %s: transition to %s: %v", worker, status, err)
	}
	delete(s.lastBeat, worker)
}
