package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/proxy_mon/internal/domain"
)

type timedTask struct {
	name  string
	ticks int
}

func (t *timedTask) Name() string                      { return t.name }
func (t *timedTask) OnTimer(ctx context.Context) error { t.ticks++; return nil }

type setupTask struct{ name string }

func (t *setupTask) Name() string                    { return t.name }
func (t *setupTask) Setup(ctx context.Context) error { return nil }

type checkOnlyTask struct {
	name   string
	result domain.CheckResult
}

func (t *checkOnlyTask) Name() string { return t.name }
func (t *checkOnlyTask) DoCheck(line string) (domain.CheckResult, error) {
	return t.result, nil
}

type bareTask struct{ name string }

func (t *bareTask) Name() string { return t.name }

func TestRegistry_Empty(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Names())
	assert.Empty(t, r.Tasks())
	assert.Empty(t, r.SetupTasks())
	assert.Empty(t, r.TimeTasks())
	assert.Empty(t, r.CheckTasks())
}

func TestRegistry_ClassifiesByCapability(t *testing.T) {
	r, err := NewRegistryWithTasks(
		&setupTask{name: "setup"},
		&timedTask{name: "timed"},
		&checkOnlyTask{name: "check"},
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"setup", "timed", "check"}, r.Names())
	require.Len(t, r.SetupTasks(), 1)
	assert.Equal(t, "setup", r.SetupTasks()[0].Name())
	require.Len(t, r.TimeTasks(), 1)
	assert.Equal(t, "timed", r.TimeTasks()[0].Name())
	require.Len(t, r.CheckTasks(), 1)
	assert.Equal(t, "check", r.CheckTasks()[0].Name())
}

func TestRegistry_CheckTaskHasEveryCapability(t *testing.T) {
	ct := NewCheckTaskWithCounter(&substringRule{name: "BasicCheck"}, &failingCounter{}, 3, nopLogger())
	r, err := NewRegistryWithTasks(ct)
	require.NoError(t, err)

	assert.Len(t, r.SetupTasks(), 1)
	assert.Len(t, r.TimeTasks(), 1)
	assert.Len(t, r.CheckTasks(), 1)
}

func TestRegistry_OverrideKeepsSlot(t *testing.T) {
	r, err := NewRegistryWithTasks(
		&checkOnlyTask{name: "first", result: domain.Error},
		&timedTask{name: "second"},
	)
	require.NoError(t, err)

	override := &checkOnlyTask{name: "first", result: domain.FatalExit}
	require.NoError(t, r.Register(override))

	assert.Equal(t, []string{"first", "second"}, r.Names())
	assert.Equal(t, 2, r.Len())

	got, ok := r.Get("first")
	require.True(t, ok)
	assert.Same(t, override, got)

	checks := r.CheckTasks()
	require.Len(t, checks, 1)
	result, err := checks[0].DoCheck("line")
	require.NoError(t, err)
	assert.Equal(t, domain.FatalExit, result)
}

func TestRegistry_OverrideChangesCapabilities(t *testing.T) {
	r, err := NewRegistryWithTasks(&checkOnlyTask{name: "task"})
	require.NoError(t, err)

	require.NoError(t, r.Register(&timedTask{name: "task"}))

	assert.Empty(t, r.CheckTasks())
	assert.Len(t, r.TimeTasks(), 1)
}

func TestRegistry_ExtendLayersOverBase(t *testing.T) {
	base, err := NewRegistryWithTasks(&timedTask{name: "a"}, &timedTask{name: "b"})
	require.NoError(t, err)

	require.NoError(t, base.Extend(&timedTask{name: "c"}, &setupTask{name: "a"}))
	assert.Equal(t, []string{"a", "b", "c"}, base.Names())
	assert.Len(t, base.TimeTasks(), 2)
	assert.Len(t, base.SetupTasks(), 1)
}

func TestRegistry_Rejects(t *testing.T) {
	r := NewRegistry()

	err := r.Register(&bareTask{name: "bare"})
	assert.ErrorIs(t, err, ErrNotATask)

	err = r.Register(nil)
	assert.ErrorIs(t, err, ErrNotATask)

	err = r.Register(&timedTask{name: ""})
	assert.ErrorIs(t, err, ErrEmptyName)

	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ExtendStopsAtFirstError(t *testing.T) {
	r := NewRegistry()
	err := r.Extend(&timedTask{name: "ok"}, &bareTask{name: "bad"}, &timedTask{name: "later"})
	assert.ErrorIs(t, err, ErrNotATask)
	assert.Equal(t, []string{"ok"}, r.Names())
}

func TestRegistry_ViewsAreCopies(t *testing.T) {
	r, err := NewRegistryWithTasks(&timedTask{name: "a"})
	require.NoError(t, err)

	names := r.Names()
	names[0] = "mutated"
	assert.Equal(t, []string{"a"}, r.Names())
}
