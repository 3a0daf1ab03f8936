package app

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aneuhold/taskd/internal/config"
	"github.com/aneuhold/taskd/internal/docstore/idgen"
	"github.com/aneuhold/taskd/internal/docstore/queue"
	"github.com/aneuhold/taskd/internal/docstore/schema"
	"github.com/aneuhold/taskd/internal/docstore/store"
	"github.com/aneuhold/taskd/internal/logging"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	return cfg
}

func openApp(t *testing.T, cfg *config.Config, opts Options) *App {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.IDs == nil {
		opts.IDs = &idgen.Sequence{Prefix: "t"}
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return testNow }
	}
	a, err := Open(cfg, opts)
	require.NoError(t, err)
	return a
}

func closeApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))
}

func waitIdle(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.WaitIdle(ctx))
}

func day(offset int) *time.Time {
	return schema.TimePtr(testNow.AddDate(0, 0, offset))
}

func TestOpen_AddAndReopen(t *testing.T) {
	cfg := testConfig(t)
	a := openApp(t, cfg, Options{})

	task, err := a.AddTask(TaskInput{Title: "  write report ", Tags: []string{"work"}, DueDate: day(2)})
	require.NoError(t, err)
	assert.Equal(t, "t-1", task.ID)
	assert.Equal(t, "write report", task.Title)
	assert.Equal(t, testNow, task.CreatedAt)

	waitIdle(t, a)
	require.NotNil(t, a.Local)
	assert.Equal(t, 1, localCount(t, a, schema.KindTasks))
	closeApp(t, a)

	b := openApp(t, cfg, Options{IDs: &idgen.Sequence{Prefix: "u"}})
	defer closeApp(t, b)
	got, ok := b.Tasks.Get("t-1")
	require.True(t, ok, "task should load from the local snapshot")
	assert.Equal(t, "write report", got.Title)
	assert.Equal(t, 1, localCount(t, b, schema.KindTasks), "local remote survives a reopen")

	// A full refetch against the seeded remote keeps the task.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Sync(ctx))
	assert.Equal(t, 1, b.Tasks.Len())
}

func localCount(t *testing.T, a *App, kind string) int {
	t.Helper()
	n, err := a.Local.Count(context.Background(), kind)
	require.NoError(t, err)
	return n
}

func TestLocalRemote_SharedBetweenProcesses(t *testing.T) {
	cfg := testConfig(t)
	a := openApp(t, cfg, Options{})
	b := openApp(t, cfg, Options{IDs: &idgen.Sequence{Prefix: "u"}})

	_, err := a.AddTask(TaskInput{Title: "from a"})
	require.NoError(t, err)
	waitIdle(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// b refetches and must see a's task instead of wiping it.
	require.NoError(t, b.Sync(ctx))
	_, ok := b.Tasks.Get("t-1")
	require.True(t, ok, "second process sees the first one's task after a sync")

	_, err = b.AddTask(TaskInput{Title: "from b"})
	require.NoError(t, err)
	waitIdle(t, b)

	require.NoError(t, a.Sync(ctx))
	assert.Equal(t, 2, a.Tasks.Len())
	closeApp(t, a)
	closeApp(t, b)

	c := openApp(t, cfg, Options{IDs: &idgen.Sequence{Prefix: "v"}})
	defer closeApp(t, c)
	require.NoError(t, c.Sync(ctx))
	assert.Equal(t, 2, c.Tasks.Len(), "neither process lost the other's edit")
	assert.Equal(t, 2, localCount(t, c, schema.KindTasks))
}

func TestLocalRemote_DeleteNotResurrectedByStaleSnapshot(t *testing.T) {
	cfg := testConfig(t)
	a := openApp(t, cfg, Options{})
	task, err := a.AddTask(TaskInput{Title: "short lived"})
	require.NoError(t, err)
	waitIdle(t, a)

	// b loads a snapshot that still has the task.
	b := openApp(t, cfg, Options{IDs: &idgen.Sequence{Prefix: "u"}})
	_, err = a.DeleteTask(task.ID)
	require.NoError(t, err)
	waitIdle(t, a)
	closeApp(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Sync(ctx))
	defer closeApp(t, b)

	_, ok := b.Tasks.Get(task.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, localCount(t, b, schema.KindTasks))
}

func TestAddTask_Validation(t *testing.T) {
	a := openApp(t, testConfig(t), Options{})
	defer closeApp(t, a)

	_, err := a.AddTask(TaskInput{Title: "   "})
	assert.Error(t, err)

	_, err = a.AddTask(TaskInput{Title: "orphan", ParentID: "missing"})
	assert.ErrorIs(t, err, store.ErrEntityNotFound)

	_, err = a.AddTask(TaskInput{Title: "bad", Recurrence: &schema.RecurrenceInfo{}})
	assert.Error(t, err)
	assert.Equal(t, 0, a.Tasks.Len())
}

func TestAddTask_ChildOfRecurringBecomesGenerated(t *testing.T) {
	a := openApp(t, testConfig(t), Options{})
	defer closeApp(t, a)

	origin, err := a.AddTask(TaskInput{
		Title:   "water plants",
		DueDate: day(3),
		Recurrence: &schema.RecurrenceInfo{
			Frequency: schema.Frequency{EveryX: 1, Unit: schema.UnitWeek},
			Basis:     schema.BasisDueDate,
			Effect:    schema.EffectRollOnBasis,
		},
	})
	require.NoError(t, err)

	child, err := a.AddTask(TaskInput{Title: "fill can", ParentID: origin.ID})
	require.NoError(t, err)
	require.NotNil(t, child.ParentRecurringInfo)
	assert.Equal(t, origin.ID, child.ParentRecurringInfo.OriginID)
	assert.Equal(t, *origin.DueDate, *child.ParentRecurringInfo.DueDate)

	grandchild, err := a.AddTask(TaskInput{Title: "find can", ParentID: child.ID})
	require.NoError(t, err)
	require.NotNil(t, grandchild.ParentRecurringInfo)
	assert.Equal(t, origin.ID, grandchild.ParentRecurringInfo.OriginID)

	_, err = a.AddTask(TaskInput{
		Title:    "nested recurrence",
		ParentID: child.ID,
		Recurrence: &schema.RecurrenceInfo{
			Frequency: schema.Frequency{EveryX: 1, Unit: schema.UnitDay},
			Basis:     schema.BasisDueDate,
			Effect:    schema.EffectRollOnCompletion,
		},
	})
	assert.Error(t, err)
}

func TestResolveTask_Prefix(t *testing.T) {
	a := openApp(t, testConfig(t), Options{IDs: &idgen.Sequence{Prefix: "abc"}})
	defer closeApp(t, a)

	for i := 0; i < 2; i++ {
		_, err := a.AddTask(TaskInput{Title: "task"})
		require.NoError(t, err)
	}

	got, err := a.ResolveTask("abc-2")
	require.NoError(t, err)
	assert.Equal(t, "abc-2", got.ID)

	_, err = a.ResolveTask("abc")
	assert.ErrorContains(t, err, "ambiguous")

	_, err = a.ResolveTask("zzz")
	assert.ErrorIs(t, err, store.ErrEntityNotFound)
}

func TestUpdateTask(t *testing.T) {
	a := openApp(t, testConfig(t), Options{})
	defer closeApp(t, a)

	task, err := a.AddTask(TaskInput{Title: "draft", DueDate: day(1)})
	require.NoError(t, err)

	title := "final"
	got, err := a.UpdateTask(task.ID, TaskPatch{Title: &title, ClearDue: true, StartDate: day(0)})
	require.NoError(t, err)
	assert.Equal(t, "final", got.Title)
	assert.Nil(t, got.DueDate)
	require.NotNil(t, got.StartDate)

	empty := " "
	_, err = a.UpdateTask(task.ID, TaskPatch{Title: &empty})
	assert.Error(t, err)
	assert.True(t, TaskPatch{}.Empty())
}

func TestSetCompleted_Cascade(t *testing.T) {
	a := openApp(t, testConfig(t), Options{})
	defer closeApp(t, a)

	root, _ := a.AddTask(TaskInput{Title: "root"})
	child, _ := a.AddTask(TaskInput{Title: "child", ParentID: root.ID})
	other, _ := a.AddTask(TaskInput{Title: "other"})

	ids, err := a.SetCompleted(root.ID, true, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{root.ID, child.ID}, ids)

	for _, id := range ids {
		got, _ := a.Tasks.Get(id)
		assert.True(t, got.Completed, id)
	}
	got, _ := a.Tasks.Get(other.ID)
	assert.False(t, got.Completed)

	assert.Len(t, a.ListTasks(TaskFilter{}), 1)
	assert.Len(t, a.ListTasks(TaskFilter{All: true}), 3)
	assert.Len(t, a.ListTasks(TaskFilter{All: true, RootsOnly: true}), 2)
}

func TestSetCompleted_RollOnCompletion(t *testing.T) {
	a := openApp(t, testConfig(t), Options{})
	defer closeApp(t, a)

	origin, err := a.AddTask(TaskInput{
		Title:   "pay rent",
		DueDate: day(-1),
		Recurrence: &schema.RecurrenceInfo{
			Frequency: schema.Frequency{EveryX: 1, Unit: schema.UnitDay},
			Basis:     schema.BasisDueDate,
			Effect:    schema.EffectRollOnCompletion,
		},
	})
	require.NoError(t, err)

	_, err = a.SetCompleted(origin.ID, true, false)
	require.NoError(t, err)

	got, _ := a.Tasks.Get(origin.ID)
	assert.False(t, got.Completed, "completion rolls the task forward")
	assert.Equal(t, *day(1), *got.DueDate)
}

func TestSetRecurrence(t *testing.T) {
	a := openApp(t, testConfig(t), Options{})
	defer closeApp(t, a)

	root, _ := a.AddTask(TaskInput{Title: "standup", DueDate: day(1)})
	child, _ := a.AddTask(TaskInput{Title: "notes", ParentID: root.ID})

	info := &schema.RecurrenceInfo{
		Frequency: schema.Frequency{EveryX: 1, Unit: schema.UnitDay},
		Basis:     schema.BasisDueDate,
		Effect:    schema.EffectRollOnBasis,
	}
	got, err := a.SetRecurrence(root.ID, info)
	require.NoError(t, err)
	require.NotNil(t, got.RecurrenceInfo)
	assert.Equal(t, 1, a.Engine.State().Len(), "origin is scheduled on the clock")

	c, _ := a.Tasks.Get(child.ID)
	require.NotNil(t, c.ParentRecurringInfo)
	assert.Equal(t, root.ID, c.ParentRecurringInfo.OriginID)

	_, err = a.SetRecurrence(child.ID, info)
	assert.Error(t, err, "generated children cannot recur")

	_, err = a.SetRecurrence(root.ID, nil)
	require.NoError(t, err)
	c, _ = a.Tasks.Get(child.ID)
	assert.Nil(t, c.ParentRecurringInfo)
	assert.Equal(t, 0, a.Engine.State().Len())

	undated, _ := a.AddTask(TaskInput{Title: "undated"})
	_, err = a.SetRecurrence(undated.ID, info)
	assert.Error(t, err)
}

func TestDuplicateTask(t *testing.T) {
	a := openApp(t, testConfig(t), Options{})
	defer closeApp(t, a)

	root, _ := a.AddTask(TaskInput{Title: "trip", DueDate: day(5)})
	child, _ := a.AddTask(TaskInput{Title: "pack", ParentID: root.ID})
	_, err := a.SetCompleted(child.ID, true, false)
	require.NoError(t, err)

	dup, err := a.DuplicateTask(root.ID)
	require.NoError(t, err)
	assert.NotEqual(t, root.ID, dup.ID)
	assert.Equal(t, "trip", dup.Title)
	assert.Equal(t, 4, a.Tasks.Len())

	var copied *schema.Task
	for _, x := range a.Tasks.All() {
		if x.ParentID != nil && *x.ParentID == dup.ID {
			copied = x
		}
	}
	require.NotNil(t, copied)
	assert.Equal(t, "pack", copied.Title)
	assert.False(t, copied.Completed)
}

type recordingRemote struct {
	mu      sync.Mutex
	batches []queue.Batch
}

func (r *recordingRemote) Apply(ctx context.Context, batch queue.Batch) (queue.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	return nil, nil
}

func (r *recordingRemote) all() []queue.Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]queue.Batch(nil), r.batches...)
}

func TestDeleteTask_OneBatchForTasksAndNotes(t *testing.T) {
	rec := &recordingRemote{}
	a := openApp(t, testConfig(t), Options{Remote: rec})
	defer closeApp(t, a)
	assert.Nil(t, a.Local)

	root, _ := a.AddTask(TaskInput{Title: "root"})
	child, _ := a.AddTask(TaskInput{Title: "child", ParentID: root.ID})
	keep, _ := a.AddTask(TaskInput{Title: "keep"})
	_, err := a.AddNote(child.ID, "remember")
	require.NoError(t, err)
	kept, err := a.AddNote(keep.ID, "stays")
	require.NoError(t, err)
	waitIdle(t, a)
	before := len(rec.all())

	ids, err := a.DeleteTask(root.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{root.ID, child.ID}, ids)
	waitIdle(t, a)

	batches := rec.all()
	require.Len(t, batches, before+1)
	last := batches[len(batches)-1]
	require.Contains(t, last, schema.KindTasks)
	require.Contains(t, last, schema.KindNotes)
	assert.Len(t, last[schema.KindTasks].Delete, 2)
	assert.Len(t, last[schema.KindNotes].Delete, 1)

	assert.Equal(t, 1, a.Tasks.Len())
	notes := a.NotesFor("")
	require.Len(t, notes, 1)
	assert.Equal(t, kept.ID, notes[0].ID)
}

func TestNotes(t *testing.T) {
	a := openApp(t, testConfig(t), Options{})
	defer closeApp(t, a)

	task, _ := a.AddTask(TaskInput{Title: "task"})
	_, err := a.AddNote(task.ID, "")
	assert.Error(t, err)
	_, err = a.AddNote("missing", "body")
	assert.Error(t, err)

	first, err := a.AddNote(task.ID, "first")
	require.NoError(t, err)
	_, err = a.AddNote(task.ID, "second")
	require.NoError(t, err)

	notes := a.NotesFor(task.ID)
	require.Len(t, notes, 2)
	assert.Equal(t, "first", notes[0].Body)

	require.NoError(t, a.DeleteNote(first.ID))
	assert.Len(t, a.NotesFor(task.ID), 1)
	assert.ErrorIs(t, a.DeleteNote(first.ID), store.ErrEntityNotFound)
}

func TestReconcile_RemoteIsSourceOfTruth(t *testing.T) {
	server := []json.RawMessage{
		json.RawMessage(`{"id":"remote-1","title":"from server","completed":false,"created_at":"2026-03-01T00:00:00Z","updated_at":"2026-03-01T00:00:00Z"}`),
	}
	rem := queue.RemoteFunc(func(ctx context.Context, batch queue.Batch) (queue.Result, error) {
		res := queue.Result{}
		for kind := range batch {
			if kind == schema.KindTasks {
				res[kind] = server
			} else {
				res[kind] = []json.RawMessage{}
			}
		}
		return res, nil
	})
	a := openApp(t, testConfig(t), Options{Remote: rem})
	defer closeApp(t, a)

	_, err := a.AddTask(TaskInput{Title: "local only"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Sync(ctx))

	all := a.Tasks.All()
	require.Len(t, all, 1)
	assert.Equal(t, "remote-1", all[0].ID)
}

func TestFileBackend_Reload(t *testing.T) {
	cfg := testConfig(t)
	cfg.Snapshot.Backend = config.BackendFile
	a := openApp(t, cfg, Options{})
	defer closeApp(t, a)
	require.NotNil(t, a.Files)

	_, err := a.AddTask(TaskInput{Title: "on disk"})
	require.NoError(t, err)

	foreign := map[string]*schema.Task{
		"x-1": {ID: "x-1", Title: "edited elsewhere", CreatedAt: testNow, UpdatedAt: testNow},
	}
	data, err := json.Marshal(foreign)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(a.Files.Path(schema.KindTasks), data, 0644))

	require.NoError(t, a.Reload(schema.KindTasks))
	got, ok := a.Tasks.Get("x-1")
	require.True(t, ok)
	assert.Equal(t, "edited elsewhere", got.Title)
	assert.Error(t, a.Reload("widgets"))
}

func TestDaemonBuilder(t *testing.T) {
	cfg := testConfig(t)
	cfg.Remote.PushURL = "ws://127.0.0.1:1/v1/push"
	a := openApp(t, cfg, Options{})
	defer closeApp(t, a)

	d, err := a.Daemon(logging.Discard())
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.False(t, d.Status().Running)
}

func TestFailingRemoteKeepsLocalState(t *testing.T) {
	rem := queue.RemoteFunc(func(ctx context.Context, batch queue.Batch) (queue.Result, error) {
		return nil, errors.New("offline")
	})
	a := openApp(t, testConfig(t), Options{Remote: rem})
	defer closeApp(t, a)

	_, err := a.AddTask(TaskInput{Title: "offline edit"})
	require.NoError(t, err)
	waitIdle(t, a)

	assert.Equal(t, 1, a.Tasks.Len())
	assert.GreaterOrEqual(t, a.Queue.Stats().Failed, 1)
}

func TestParseKinds(t *testing.T) {
	kinds, err := ParseKinds("")
	require.NoError(t, err)
	assert.Equal(t, []string{schema.KindTasks, schema.KindNotes}, kinds)

	kinds, err = ParseKinds("notes")
	require.NoError(t, err)
	assert.Equal(t, []string{schema.KindNotes}, kinds)

	_, err = ParseKinds("tasks,widgets")
	assert.Error(t, err)
}
