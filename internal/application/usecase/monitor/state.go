package monitor

import (
	"sync"
	"time"
)

// Status 调度器运行状态，供 dashboard /healthz 读取
type Status struct {
	Started          time.Time `json:"started"`
	LastTick         time.Time `json:"last_tick"`
	LastOutcome      string    `json:"last_outcome"`
	LastPromotion    time.Time `json:"last_promotion"`
	Ticks            int       `json:"ticks"`
	ConsecutiveFails int       `json:"consecutive_failures"`
	EventsTotal      int       `json:"events_total"`
}

type State struct {
	mu sync.Mutex
	st Status
}

func NewState(started time.Time) *State {
	return &State{st: Status{Started: started}}
}

// Apply records one finished tick.
func (s *State) Apply(r TickReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.Ticks++
	s.st.LastTick = r.At
	s.st.LastOutcome = r.Outcome
	s.st.EventsTotal += len(r.Events)
	if r.Promoted {
		s.st.LastPromotion = r.At
	}
	if r.Err != nil {
		s.st.ConsecutiveFails++
	} else {
		s.st.ConsecutiveFails = 0
	}
}

func (s *State) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}
