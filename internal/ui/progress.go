package ui

import (
	"sync"
	"time"
)

// speedSampleInterval is how often throughput is sampled.
const speedSampleInterval = 500 * time.Millisecond

// ProgressTracker keeps progress state across stages.
// It is safe for concurrent use.
type ProgressTracker struct {
	mu         sync.RWMutex
	stage      Stage
	kind       string
	current    int
	total      int
	key        string
	stageStart time.Time
	warnings   int
	errors     int

	lastCurrent int
	lastSample  time.Time
	speed       float64
	avgSpeed    float64
	samples     int
}

// ProgressStats contains a snapshot of current progress.
type ProgressStats struct {
	Stage    Stage
	Kind     string
	Current  int
	Total    int
	Progress float64
	ETA      time.Duration
	Key      string
	Speed    float64
	AvgSpeed float64
	Errors   int
	Warnings int
}

// NewProgressTracker creates a tracker in the loading stage.
func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	return &ProgressTracker{stage: StageLoading, stageStart: now, lastSample: now}
}

// Apply folds a progress event into the tracker.
func (p *ProgressTracker) Apply(ev ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if ev.Stage != p.stage {
		p.stage = ev.Stage
		p.stageStart = now
		p.lastCurrent = 0
		p.lastSample = now
		p.speed, p.avgSpeed, p.samples = 0, 0, 0
	}
	p.kind = ev.Kind
	p.current = ev.Current
	p.total = ev.Total
	if ev.Key != "" {
		p.key = ev.Key
	}

	if elapsed := now.Sub(p.lastSample); elapsed >= speedSampleInterval {
		if delta := ev.Current - p.lastCurrent; delta > 0 {
			p.speed = float64(delta) / elapsed.Seconds()
			p.samples++
			if p.samples == 1 {
				p.avgSpeed = p.speed
			} else {
				p.avgSpeed = 0.2*p.speed + 0.8*p.avgSpeed
			}
		}
		p.lastCurrent = ev.Current
		p.lastSample = now
	}
}

// AddError counts an error or warning.
func (p *ProgressTracker) AddError(ev ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev.IsWarn {
		p.warnings++
	} else {
		p.errors++
	}
}

// Stats returns a snapshot.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st := ProgressStats{
		Stage:    p.stage,
		Kind:     p.kind,
		Current:  p.current,
		Total:    p.total,
		Key:      p.key,
		Speed:    p.speed,
		AvgSpeed: p.avgSpeed,
		Errors:   p.errors,
		Warnings: p.warnings,
	}
	if p.total > 0 {
		st.Progress = min(float64(p.current)/float64(p.total), 1.0)
		if st.Progress > 0 && st.Progress < 1 {
			elapsed := time.Since(p.stageStart)
			st.ETA = time.Duration(float64(elapsed)/st.Progress) - elapsed
		}
	}
	return st
}
