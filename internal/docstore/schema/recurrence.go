package schema

import (
	"fmt"
	"time"
)

// Unit is the step size of a recurrence frequency.
type Unit string

const (
	UnitHour  Unit = "hour"
	UnitDay   Unit = "day"
	UnitWeek  Unit = "week"
	UnitMonth Unit = "month"
	UnitYear  Unit = "year"
)

// IsValid reports whether u is a known unit.
func (u Unit) IsValid() bool {
	switch u {
	case UnitHour, UnitDay, UnitWeek, UnitMonth, UnitYear:
		return true
	}
	return false
}

// Basis selects which task date drives the schedule.
type Basis string

const (
	BasisStartDate Basis = "startDate"
	BasisDueDate   Basis = "dueDate"
)

// Effect decides what an occurrence does to the task.
type Effect string

const (
	EffectRollOnBasis      Effect = "rollOnBasis"
	EffectRollOnCompletion Effect = "rollOnCompletion"
	EffectStack            Effect = "stack"
)

// TimeBased reports whether occurrences of this effect are driven by the clock.
func (e Effect) TimeBased() bool {
	return e == EffectRollOnBasis || e == EffectStack
}

// Frequency is "every EveryX Units".
type Frequency struct {
	EveryX int  `json:"every_x"`
	Unit   Unit `json:"unit"`
}

// RecurrenceInfo describes how a task repeats.
type RecurrenceInfo struct {
	Frequency Frequency `json:"frequency"`
	Basis     Basis     `json:"basis"`
	Effect    Effect    `json:"effect"`
}

// Validate checks the recurrence fields.
func (r *RecurrenceInfo) Validate() error {
	if r.Frequency.EveryX <= 0 {
		return fmt.Errorf("frequency.every_x must be positive (got %d)", r.Frequency.EveryX)
	}
	if !r.Frequency.Unit.IsValid() {
		return fmt.Errorf("invalid frequency unit: %q", r.Frequency.Unit)
	}
	switch r.Basis {
	case BasisStartDate, BasisDueDate:
	default:
		return fmt.Errorf("invalid basis: %q", r.Basis)
	}
	switch r.Effect {
	case EffectRollOnBasis, EffectRollOnCompletion, EffectStack:
	default:
		return fmt.Errorf("invalid effect: %q", r.Effect)
	}
	return nil
}

// Step advances t by one frequency step. Month and year steps use calendar
// arithmetic, so Jan 31 + 1 month normalizes to early March.
func (f Frequency) Step(t time.Time) time.Time {
	n := f.EveryX
	switch f.Unit {
	case UnitHour:
		return t.Add(time.Duration(n) * time.Hour)
	case UnitWeek:
		return t.AddDate(0, 0, 7*n)
	case UnitMonth:
		return t.AddDate(0, n, 0)
	case UnitYear:
		return t.AddDate(n, 0, 0)
	default:
		return t.AddDate(0, 0, n)
	}
}

// StepN advances t by n frequency steps.
func (f Frequency) StepN(t time.Time, n int) time.Time {
	for i := 0; i < n; i++ {
		t = f.Step(t)
	}
	return t
}
