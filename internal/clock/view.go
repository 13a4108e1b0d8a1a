package clock

import "time"

// SimulationView is a read-only view of a clock's simulation timeline.
// Pausing and resuming go through the Clock so Simulation and Loop move
// together.
type SimulationView struct{ t *SimulationTimeline }

func (v SimulationView) Kind() Kind               { return Simulation }
func (v SimulationView) Now() int64               { return v.t.Now() }
func (v SimulationView) State() State             { return v.t.State() }
func (v SimulationView) IsPaused() bool           { return v.t.IsPaused() }
func (v SimulationView) PausedFor() time.Duration { return v.t.PausedFor() }

// LoopView is a read-only view of a clock's loop timeline.
type LoopView struct{ t *LoopTimeline }

func (v LoopView) Kind() Kind               { return Loop }
func (v LoopView) Now() int64               { return v.t.Now() }
func (v LoopView) Scaled() float64          { return v.t.Scaled() }
func (v LoopView) TickSize() float64        { return v.t.TickSize() }
func (v LoopView) State() State             { return v.t.State() }
func (v LoopView) IsPaused() bool           { return v.t.IsPaused() }
func (v LoopView) PausedFor() time.Duration { return v.t.PausedFor() }
