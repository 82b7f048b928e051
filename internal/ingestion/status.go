package ingestion

import "time"

// Status is a snapshot of the poller's state for the /status endpoint.
type Status struct {
	Running     bool        `json:"running"`
	Runs        int64       `json:"runs"`
	Failures    int64       `json:"failures"`
	LastRun     time.Time   `json:"last_run,omitempty"`
	LastSuccess time.Time   `json:"last_success,omitempty"`
	LastError   string      `json:"last_error,omitempty"`
	LastResult  *PollResult `json:"last_result,omitempty"`
}

// Status returns a copy of the current poller state.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.status
	if s.LastResult != nil {
		r := *s.LastResult
		s.LastResult = &r
	}
	return s
}

// begin marks a cycle as running. Returns false if one already is.
func (p *Poller) begin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status.Running {
		return false
	}
	p.status.Running = true
	return true
}

func (p *Poller) finish(start time.Time, result *PollResult, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.Running = false
	p.status.Runs++
	p.status.LastRun = start

	if err != nil {
		p.status.Failures++
		p.status.LastError = err.Error()
		return
	}

	p.status.LastSuccess = start
	p.status.LastError = ""
	r := *result
	r.Duration = p.now().Sub(start)
	p.status.LastResult = &r
}
