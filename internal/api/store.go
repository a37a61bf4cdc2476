package api

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/hybridstencil/internal/harness"
	"github.com/samcharles93/hybridstencil/internal/hybrid"
)

// subscriberBuffer is the number of progress events a slow events client
// may lag behind before further events are dropped for it.
const subscriberBuffer = 256

type runEntry struct {
	record RunRecord
	subs   map[chan hybrid.Event]struct{}
}

// RunStore keeps every run submitted to the server, in submission order.
type RunStore struct {
	mu    sync.Mutex
	runs  map[string]*runEntry
	order []string
}

func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]*runEntry)}
}

// Create records a queued run and returns it.
func (s *RunStore) Create(req RunRequest, now time.Time) RunRecord {
	rec := RunRecord{
		ID:        newRunID(),
		Status:    StatusQueued,
		Request:   req,
		CreatedAt: now,
	}
	s.mu.Lock()
	s.runs[rec.ID] = &runEntry{record: rec, subs: make(map[chan hybrid.Event]struct{})}
	s.order = append(s.order, rec.ID)
	s.mu.Unlock()
	return rec
}

func (s *RunStore) Get(id string) (RunRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.runs[id]
	if !ok {
		return RunRecord{}, false
	}
	return e.record, true
}

// List returns all runs, oldest first.
func (s *RunStore) List() []RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RunRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.runs[id].record)
	}
	return out
}

// Start marks a run as running.
func (s *RunStore) Start(id string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.runs[id]; ok {
		e.record.Status = StatusRunning
		e.record.StartedAt = &now
	}
}

// Finish stores the outcome of a run and closes every events subscription.
func (s *RunStore) Finish(id string, rep *harness.Report, err error, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.runs[id]
	if !ok {
		return
	}
	e.record.FinishedAt = &now
	if err != nil {
		e.record.Status = StatusFailed
		e.record.Error = err.Error()
	} else {
		e.record.Status = StatusCompleted
		e.record.Report = rep
	}
	for ch := range e.subs {
		close(ch)
	}
	e.subs = nil
}

// Publish delivers ev to the subscribers of run id without blocking.
func (s *RunStore) Publish(id string, ev hybrid.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.runs[id]
	if !ok {
		return
	}
	for ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers for the progress events of run id. The channel is
// closed when the run finishes; it is nil when the run has already
// finished. cancel must be called once the caller stops reading.
func (s *RunStore) Subscribe(id string) (events <-chan hybrid.Event, cancel func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.runs[id]
	if !ok {
		return nil, nil, ErrRunNotFound
	}
	if e.record.Status.Terminal() {
		return nil, func() {}, nil
	}
	ch := make(chan hybrid.Event, subscriberBuffer)
	e.subs[ch] = struct{}{}
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := e.subs[ch]; ok {
			delete(e.subs, ch)
			close(ch)
		}
	}, nil
}

func newRunID() string {
	return "run_" + uuid.NewString()
}
