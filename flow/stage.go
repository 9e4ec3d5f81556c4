// Package flow drives the edge-side submit flow: a staged submit state
// machine, interpretation of operator command tokens, and debounced
// field synchronization.
package flow

import (
	"math/rand"
	"sync"
	"time"

	"pkt.systems/pslog"
)

// Stage is the submit flow state.
type Stage string

const (
	// StageIdle means no submit is in progress.
	StageIdle Stage = "idle"
	// StageSubmitBar shows the indeterminate progress phase.
	StageSubmitBar Stage = "submit_bar"
	// StageSubmitFinal shows the terminal waiting phase.
	StageSubmitFinal Stage = "submit_final"
)

// StageConfig parametrizes the submit stage timings. The bar phase lasts
// a random duration between BarMin and BarMax before advancing.
type StageConfig struct {
	BarMin time.Duration
	BarMax time.Duration
}

// DefaultStageConfig matches the observed production pacing.
func DefaultStageConfig() StageConfig {
	return StageConfig{
		BarMin: 2 * time.Second,
		BarMax: 3 * time.Second,
	}
}

// StageMachine advances a submit through its stages and reports changes
// through a callback. All callbacks run without the internal lock held.
type StageMachine struct {
	mu       sync.Mutex
	cfg      StageConfig
	stage    Stage
	timer    *time.Timer
	onChange func(Stage)
	log      pslog.Logger
}

// NewStageMachine constructs a machine in StageIdle. onChange may be nil.
func NewStageMachine(cfg StageConfig, onChange func(Stage), logger pslog.Logger) *StageMachine {
	if cfg.BarMin <= 0 {
		cfg.BarMin = DefaultStageConfig().BarMin
	}
	if cfg.BarMax < cfg.BarMin {
		cfg.BarMax = cfg.BarMin
	}
	return &StageMachine{
		cfg:      cfg,
		stage:    StageIdle,
		onChange: onChange,
		log:      logger,
	}
}

// Stage returns the current stage.
func (m *StageMachine) Stage() Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stage
}

// Begin starts a submit: Idle becomes SubmitBar and, after the bar
// duration, SubmitFinal. Beginning an already running submit is a no-op.
func (m *StageMachine) Begin() {
	m.mu.Lock()
	if m.stage != StageIdle {
		m.mu.Unlock()
		return
	}
	m.stage = StageSubmitBar
	delay := m.cfg.BarMin
	if jitter := m.cfg.BarMax - m.cfg.BarMin; jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(jitter)))
	}
	m.timer = time.AfterFunc(delay, m.advanceToFinal)
	m.mu.Unlock()
	if m.log != nil {
		m.log.Debug("submit stage", "stage", StageSubmitBar, "final_in", delay)
	}
	m.notify(StageSubmitBar)
}

func (m *StageMachine) advanceToFinal() {
	m.mu.Lock()
	if m.stage != StageSubmitBar {
		m.mu.Unlock()
		return
	}
	m.stage = StageSubmitFinal
	m.mu.Unlock()
	if m.log != nil {
		m.log.Debug("submit stage", "stage", StageSubmitFinal)
	}
	m.notify(StageSubmitFinal)
}

// Reset returns the machine to StageIdle and cancels any pending
// transition. Resetting an idle machine is a no-op.
func (m *StageMachine) Reset() {
	m.mu.Lock()
	if m.stage == StageIdle {
		m.mu.Unlock()
		return
	}
	m.stage = StageIdle
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()
	if m.log != nil {
		m.log.Debug("submit stage", "stage", StageIdle)
	}
	m.notify(StageIdle)
}

// Stop cancels pending transitions without emitting a change.
func (m *StageMachine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *StageMachine) notify(stage Stage) {
	if m.onChange != nil {
		m.onChange(stage)
	}
}
