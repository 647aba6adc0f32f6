package sweep

import (
	"slices"
	"sync"
	"time"

	"github.com/intelliDean/PhantomBet/internal/domain"
)

// Phase is the orchestrator's coarse state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseScanning   Phase = "scanning"
	PhaseProcessing Phase = "processing"
)

// State is a point-in-time view of the orchestrator.
type State struct {
	Phase     Phase                `json:"phase"`
	SweepID   string               `json:"sweep_id,omitempty"`
	StartedAt time.Time            `json:"started_at,omitempty"`
	Total     int                  `json:"total"`
	Done      int                  `json:"done"`
	InFlight  []uint64             `json:"in_flight,omitempty"`
	Last      *domain.SweepSummary `json:"last,omitempty"`
}

// tracker guards the mutable state behind State().
type tracker struct {
	mu       sync.Mutex
	phase    Phase
	sweepID  string
	started  time.Time
	total    int
	done     int
	inFlight map[uint64]struct{}
	last     *domain.SweepSummary
}

func newTracker() *tracker {
	return &tracker{phase: PhaseIdle, inFlight: make(map[uint64]struct{})}
}

func (t *tracker) scanning(sweepID string, started time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase, t.sweepID, t.started = PhaseScanning, sweepID, started
	t.total, t.done = 0, 0
	clear(t.inFlight)
}

func (t *tracker) processing(total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase, t.total = PhaseProcessing, total
}

func (t *tracker) begin(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inFlight[id] = struct{}{}
}

func (t *tracker) finish(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, id)
	t.done++
}

func (t *tracker) idle(last *domain.SweepSummary) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase, t.sweepID, t.started = PhaseIdle, "", time.Time{}
	t.total, t.done = 0, 0
	clear(t.inFlight)
	if last != nil {
		t.last = last
	}
}

func (t *tracker) snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := State{
		Phase:     t.phase,
		SweepID:   t.sweepID,
		StartedAt: t.started,
		Total:     t.total,
		Done:      t.done,
	}
	for id := range t.inFlight {
		s.InFlight = append(s.InFlight, id)
	}
	slices.Sort(s.InFlight)
	if t.last != nil {
		last := *t.last
		s.Last = &last
	}
	return s
}
