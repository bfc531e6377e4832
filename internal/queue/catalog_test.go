package queue

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/convoy/internal/geom"
)

func newTestCatalog(historySize int) *Catalog {
	c := NewCatalog(historySize)
	n := 0
	c.newID = func() string {
		n++
		return fmt.Sprintf("task-%d", n)
	}
	return c
}

func def(pool string, priority float64) Definition {
	return Definition{
		Pool:           pool,
		Type:           "delivery",
		TargetRef:      "shop-1",
		Location:       geom.Pt(10, 0, 5),
		Priority:       priority,
		TravelSeconds:  10,
		ProcessSeconds: 5,
		ReturnSeconds:  10,
		Rewards:        map[string]int64{"gold": 3},
	}
}

func TestCatalogAddIndexesPerPool(t *testing.T) {
	c := newTestCatalog(0)

	a := c.Add(def("trucks", 1), 0)
	b := c.Add(def("trucks", 2), 1)
	x := c.Add(def("medics", 1), 2)

	assert.Equal(t, StatusPending, a.Status)
	assert.Equal(t, uint64(1), a.Seq)
	assert.Equal(t, uint64(3), x.Seq)
	assert.Equal(t, 2, c.PendingCount("trucks"))
	assert.Equal(t, 1, c.PendingCount("medics"))
	assert.Equal(t, 0, c.PendingCount("unknown"))

	pending := c.Pending("trucks")
	require.Len(t, pending, 2)
	assert.Equal(t, a.ID, pending[0].ID)
	assert.Equal(t, b.ID, pending[1].ID)
}

func TestCatalogAddCopiesDefinition(t *testing.T) {
	c := newTestCatalog(0)
	d := def("trucks", 1)
	task := c.Add(d, 0)

	d.Rewards["gold"] = 99
	assert.Equal(t, int64(3), task.Def.Rewards["gold"])
}

func TestNextPendingPicksHighestPriorityFirstSeenOnTie(t *testing.T) {
	c := newTestCatalog(0)

	c.Add(def("p", 5), 0)
	first10 := c.Add(def("p", 10), 1)
	c.Add(def("p", 10), 2)
	c.Add(def("p", -3), 3)

	got := c.NextPending("p")
	require.NotNil(t, got)
	assert.Equal(t, first10.ID, got.ID)

	require.NoError(t, got.SetStatus(StatusAssigned))
	next := c.NextPending("p")
	require.NotNil(t, next)
	assert.Equal(t, 10.0, next.Def.Priority)
	assert.NotEqual(t, first10.ID, next.ID)

	assert.Nil(t, c.NextPending("empty"))
}

func TestActiveListsAssignedAndInProgress(t *testing.T) {
	c := newTestCatalog(0)
	a := c.Add(def("p", 1), 0)
	b := c.Add(def("p", 1), 0)
	c.Add(def("p", 1), 0)

	require.NoError(t, a.SetStatus(StatusAssigned))
	require.NoError(t, b.SetStatus(StatusAssigned))
	require.NoError(t, b.SetStatus(StatusInProgress))

	active := c.Active("p")
	require.Len(t, active, 2)
	assert.Equal(t, a.ID, active[0].ID)
	assert.Equal(t, b.ID, active[1].ID)
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusAssigned, true},
		{StatusAssigned, StatusInProgress, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusPending, StatusCancelled, true},
		{StatusAssigned, StatusCancelled, true},
		{StatusInProgress, StatusCancelled, true},
		{StatusPending, StatusInProgress, false},
		{StatusAssigned, StatusPending, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
		{StatusCompleted, StatusCompleted, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			task := &Task{ID: "t", Status: tt.from}
			err := task.SetStatus(tt.to)
			if tt.ok {
				assert.NoError(t, err)
				assert.Equal(t, tt.to, task.Status)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.from, task.Status)
			}
		})
	}
}

func TestPruneMovesTerminalTasksToHistory(t *testing.T) {
	c := newTestCatalog(2)
	a := c.Add(def("p", 1), 0)
	b := c.Add(def("p", 1), 0)
	keep := c.Add(def("p", 1), 0)

	require.NoError(t, a.SetStatus(StatusCancelled))
	require.NoError(t, b.SetStatus(StatusAssigned))
	require.NoError(t, b.SetStatus(StatusInProgress))
	require.NoError(t, b.SetStatus(StatusCompleted))

	assert.Equal(t, 2, c.Prune())

	_, live := c.Live(a.ID)
	assert.False(t, live)
	got, ok := c.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, got.Status)

	all := c.All()
	require.Len(t, all, 1)
	assert.Equal(t, keep.ID, all[0].ID)
	assert.Len(t, c.History(), 2)
}

func TestHistoryIsBounded(t *testing.T) {
	c := newTestCatalog(1)
	a := c.Add(def("p", 1), 0)
	b := c.Add(def("p", 1), 0)
	require.NoError(t, a.SetStatus(StatusCancelled))
	c.Prune()
	require.NoError(t, b.SetStatus(StatusCancelled))
	c.Prune()

	_, ok := c.Get(a.ID)
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = c.Get(b.ID)
	assert.True(t, ok)
}

func TestNoHistoryWhenDisabled(t *testing.T) {
	c := newTestCatalog(0)
	a := c.Add(def("p", 1), 0)
	require.NoError(t, a.SetStatus(StatusCancelled))
	c.Prune()

	_, ok := c.Get(a.ID)
	assert.False(t, ok)
}

func TestLoadRestoresOrderAndSequence(t *testing.T) {
	c := newTestCatalog(4)
	c.Load([]Task{
		{ID: "b", Seq: 7, Def: def("p", 1), Status: StatusPending},
		{ID: "a", Seq: 3, Def: def("p", 1), Status: StatusAssigned, WorkerID: "w"},
	}, []Task{
		{ID: "old", Seq: 9, Def: def("p", 1), Status: StatusCompleted},
	}, 2)

	all := c.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, uint64(9), c.Seq())

	_, ok := c.Get("old")
	assert.True(t, ok)

	next := c.Add(def("p", 1), 0)
	assert.Equal(t, uint64(10), next.Seq)
}

func TestDefinitionValidate(t *testing.T) {
	ok := def("p", 1)
	assert.NoError(t, ok.Validate())

	noPool := def("", 1)
	assert.ErrorIs(t, noPool.Validate(), ErrInvalidDefinition)

	negative := def("p", 1)
	negative.ProcessSeconds = -1
	assert.ErrorIs(t, negative.Validate(), ErrInvalidDefinition)
}

func TestTaskShift(t *testing.T) {
	task := &Task{SubmittedAt: 2, AssignedAt: At(3)}
	task.Shift(10)
	assert.Equal(t, 12.0, task.SubmittedAt)
	assert.Equal(t, 13.0, *task.AssignedAt)
	assert.Nil(t, task.ArrivedAt)
}
