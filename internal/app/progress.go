package app

import "sync"

// Progress is a point-in-time view of the current or last batch.
type Progress struct {
	Stage   string `json:"stage"`
	RunID   string `json:"run_id"`
	Running bool   `json:"running"`
	Total   int    `json:"total"`
	Done    int    `json:"done"`
	Failed  int    `json:"failed"`
}

type tracker struct {
	mu sync.Mutex
	p  Progress
}

func (t *tracker) begin(stage, runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p = Progress{Stage: stage, RunID: runID, Running: true}
}

func (t *tracker) add(n int) {
	t.mu.Lock()
	t.p.Total += n
	t.mu.Unlock()
}

func (t *tracker) settle(err error) {
	t.mu.Lock()
	t.p.Done++
	if err != nil {
		t.p.Failed++
	}
	t.mu.Unlock()
}

func (t *tracker) end() {
	t.mu.Lock()
	t.p.Running = false
	t.mu.Unlock()
}

func (t *tracker) snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.p
}
