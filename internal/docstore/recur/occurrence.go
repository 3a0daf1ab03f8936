package recur

import (
	"fmt"
	"time"

	"github.com/aneuhold/taskd/internal/docstore/idgen"
	"github.com/aneuhold/taskd/internal/docstore/schema"
	"github.com/aneuhold/taskd/internal/docstore/store"
	"github.com/aneuhold/taskd/internal/docstore/tree"
)

// maxCatchUpSteps bounds the roll-forward loop.
const maxCatchUpSteps = 1_000_000

// IsOrigin reports whether t recurs on its own schedule.
func IsOrigin(t *schema.Task) bool {
	return t != nil && t.RecurrenceInfo != nil && !t.IsGeneratedChild()
}

// basisDate returns the date that drives t's schedule: its own, or the
// origin snapshot for a generated child.
func basisDate(t *schema.Task, basis schema.Basis) *time.Time {
	if t.IsGeneratedChild() {
		if basis == schema.BasisStartDate {
			return t.ParentRecurringInfo.StartDate
		}
		return t.ParentRecurringInfo.DueDate
	}
	return t.BasisDate(basis)
}

// NextOccurrenceDate returns the basis date advanced by one frequency step.
// There is none for rollOnCompletion tasks, tasks without recurrence, or
// tasks missing the basis date.
func NextOccurrenceDate(t *schema.Task) (time.Time, bool) {
	if t == nil || t.RecurrenceInfo == nil {
		return time.Time{}, false
	}
	ri := t.RecurrenceInfo
	if !ri.Effect.TimeBased() {
		return time.Time{}, false
	}
	b := basisDate(t, ri.Basis)
	if b == nil {
		return time.Time{}, false
	}
	return ri.Frequency.Step(*b), true
}

// IsDue reports whether t has an occurrence to process at now.
func IsDue(t *schema.Task, now time.Time) bool {
	if !IsOrigin(t) {
		return false
	}
	if t.RecurrenceInfo.Effect == schema.EffectRollOnCompletion {
		return t.Completed
	}
	next, ok := NextOccurrenceDate(t)
	return ok && !now.Before(next)
}

// ProcessOccurrence computes the upsert that processes one occurrence of
// origin within m. The map is not modified.
func ProcessOccurrence(m tree.TaskMap, origin *schema.Task, now time.Time, gen idgen.Generator) (store.Upsert[*schema.Task], error) {
	if !IsOrigin(origin) {
		return store.Upsert[*schema.Task]{}, fmt.Errorf("%w: task %s has no own recurrence", ErrInvalidRecurrenceState, origin.DocID())
	}
	if origin.RecurrenceInfo.Effect == schema.EffectStack && !origin.Completed {
		return stackOccurrence(m, origin, now, gen)
	}
	return rollOccurrence(m, origin, now)
}

// rollOccurrence advances the subtree in place.
func rollOccurrence(m tree.TaskMap, origin *schema.Task, now time.Time) (store.Upsert[*schema.Task], error) {
	freq := origin.RecurrenceInfo.Frequency
	steps, err := catchUpSteps(origin, now)
	if err != nil {
		return store.Upsert[*schema.Task]{}, err
	}

	start := shift(origin.StartDate, freq, steps)
	due := shift(origin.DueDate, freq, steps)

	return tree.CascadeUpdate(m, origin.ID, func(t *schema.Task) {
		t.StartDate = shift(t.StartDate, freq, steps)
		t.DueDate = shift(t.DueDate, freq, steps)
		t.Completed = false
		if t.ID != origin.ID && t.ParentRecurringInfo != nil && t.ParentRecurringInfo.OriginID == origin.ID {
			t.ParentRecurringInfo.StartDate = cloneTime(start)
			t.ParentRecurringInfo.DueDate = cloneTime(due)
		}
		t.UpdatedAt = now
	})
}

// stackOccurrence duplicates the subtree. Copies are completed and one step
// ahead; originals stop recurring.
func stackOccurrence(m tree.TaskMap, origin *schema.Task, now time.Time, gen idgen.Generator) (store.Upsert[*schema.Task], error) {
	freq := origin.RecurrenceInfo.Frequency
	start := shift(origin.StartDate, freq, 1)
	due := shift(origin.DueDate, freq, 1)

	u, idMap, err := tree.CascadeDuplicate(m, origin.ID, gen,
		func(t *schema.Task) {
			t.StartDate = shift(t.StartDate, freq, 1)
			t.DueDate = shift(t.DueDate, freq, 1)
			t.Completed = true
			t.CreatedAt = now
			t.UpdatedAt = now
		},
		func(t *schema.Task) {
			t.RecurrenceInfo = nil
			t.ParentRecurringInfo = nil
			t.UpdatedAt = now
		},
	)
	if err != nil {
		return u, err
	}

	for _, c := range u.NewEntities {
		pri := c.ParentRecurringInfo
		if pri == nil {
			continue
		}
		if newOrigin, ok := idMap[pri.OriginID]; ok {
			pri.OriginID = newOrigin
			pri.StartDate = cloneTime(start)
			pri.DueDate = cloneTime(due)
		}
	}
	return u, nil
}

// catchUpSteps returns how many frequency steps move the origin's basis
// date past now. At least one step is always taken.
func catchUpSteps(origin *schema.Task, now time.Time) (int, error) {
	ri := origin.RecurrenceInfo
	b := origin.BasisDate(ri.Basis)
	if b == nil {
		return 1, nil
	}
	d := ri.Frequency.Step(*b)
	steps := 1
	for !d.After(now) {
		if steps >= maxCatchUpSteps {
			return 0, fmt.Errorf("%w: task %s cannot catch up to %s", ErrInvalidRecurrenceState, origin.ID, now.Format(time.RFC3339))
		}
		d = ri.Frequency.Step(d)
		steps++
	}
	return steps, nil
}

func shift(t *time.Time, f schema.Frequency, steps int) *time.Time {
	if t == nil {
		return nil
	}
	v := f.StepN(*t, steps)
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
