package schema

import (
	"strings"
	"testing"
	"time"
)

func TestTask_Validate(t *testing.T) {
	now := time.Now()
	daily := &RecurrenceInfo{
		Frequency: Frequency{EveryX: 1, Unit: UnitDay},
		Basis:     BasisDueDate,
		Effect:    EffectRollOnBasis,
	}

	tests := []struct {
		name    string
		task    Task
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid task",
			task: Task{ID: "t-1", Title: "Stretch", CreatedAt: now, UpdatedAt: now},
		},
		{
			name:    "missing id",
			task:    Task{Title: "Stretch", CreatedAt: now, UpdatedAt: now},
			wantErr: true,
			errMsg:  "id is required",
		},
		{
			name:    "missing title",
			task:    Task{ID: "t-1", CreatedAt: now, UpdatedAt: now},
			wantErr: true,
			errMsg:  "title is required",
		},
		{
			name:    "title too long",
			task:    Task{ID: "t-1", Title: strings.Repeat("x", 501), CreatedAt: now, UpdatedAt: now},
			wantErr: true,
			errMsg:  "title must be 500 characters or less",
		},
		{
			name:    "own parent",
			task:    Task{ID: "t-1", Title: "Loop", ParentID: StringPtr("t-1"), CreatedAt: now, UpdatedAt: now},
			wantErr: true,
			errMsg:  "task t-1 cannot be its own parent",
		},
		{
			name: "bad recurrence",
			task: Task{ID: "t-1", Title: "Stretch", CreatedAt: now, UpdatedAt: now,
				RecurrenceInfo: &RecurrenceInfo{Frequency: Frequency{EveryX: 0, Unit: UnitDay}, Basis: BasisDueDate, Effect: EffectStack}},
			wantErr: true,
			errMsg:  "invalid recurrence_info",
		},
		{
			name:    "missing created_at",
			task:    Task{ID: "t-1", Title: "Stretch", UpdatedAt: now},
			wantErr: true,
			errMsg:  "created_at is required",
		},
		{
			name: "valid recurring task",
			task: Task{ID: "t-1", Title: "Stretch", DueDate: &now, RecurrenceInfo: daily,
				CreatedAt: now, UpdatedAt: now},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Validate() expected error containing %q, got nil", tt.errMsg)
				}
				if !strings.HasPrefix(err.Error(), tt.errMsg) {
					t.Errorf("Validate() error = %v, want prefix %v", err, tt.errMsg)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestTask_CloneIsDeep(t *testing.T) {
	now := time.Now()
	orig := &Task{
		ID:        "t-1",
		Title:     "Stretch",
		ParentID:  StringPtr("root"),
		Tags:      []string{"health"},
		DueDate:   &now,
		CreatedAt: now,
		UpdatedAt: now,
		RecurrenceInfo: &RecurrenceInfo{
			Frequency: Frequency{EveryX: 1, Unit: UnitDay},
			Basis:     BasisDueDate,
			Effect:    EffectStack,
		},
		ParentRecurringInfo: &ParentRecurringInfo{OriginID: "root", DueDate: &now},
	}

	c := orig.Clone()
	*c.ParentID = "other"
	c.Tags[0] = "changed"
	*c.DueDate = now.Add(time.Hour)
	c.RecurrenceInfo.Effect = EffectRollOnBasis
	*c.ParentRecurringInfo.DueDate = now.Add(time.Hour)

	if *orig.ParentID != "root" {
		t.Errorf("ParentID shared with clone")
	}
	if orig.Tags[0] != "health" {
		t.Errorf("Tags shared with clone")
	}
	if !orig.DueDate.Equal(now) {
		t.Errorf("DueDate shared with clone")
	}
	if orig.RecurrenceInfo.Effect != EffectStack {
		t.Errorf("RecurrenceInfo shared with clone")
	}
	if !orig.ParentRecurringInfo.DueDate.Equal(now) {
		t.Errorf("ParentRecurringInfo shared with clone")
	}
}

func TestFrequency_Step(t *testing.T) {
	base := time.Date(2026, time.January, 31, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		freq Frequency
		want time.Time
	}{
		{Frequency{EveryX: 3, Unit: UnitHour}, base.Add(3 * time.Hour)},
		{Frequency{EveryX: 1, Unit: UnitDay}, time.Date(2026, time.February, 1, 9, 0, 0, 0, time.UTC)},
		{Frequency{EveryX: 2, Unit: UnitWeek}, time.Date(2026, time.February, 14, 9, 0, 0, 0, time.UTC)},
		{Frequency{EveryX: 1, Unit: UnitMonth}, time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC)},
		{Frequency{EveryX: 1, Unit: UnitYear}, time.Date(2027, time.January, 31, 9, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(string(tt.freq.Unit), func(t *testing.T) {
			if got := tt.freq.Step(base); !got.Equal(tt.want) {
				t.Errorf("Step() = %v, want %v", got, tt.want)
			}
		})
	}
}
