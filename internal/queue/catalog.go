package queue

import (
	"sort"

	"github.com/google/uuid"
)

// DefaultHistorySize is the number of terminal tasks kept for lookup by id
// after they leave the live index.
const DefaultHistorySize = 256

// Catalog owns every task instance and indexes live ones per pool in
// submission order. It does no locking; the dispatcher serializes access.
type Catalog struct {
	live   map[string]*Task
	byPool map[string][]*Task

	history     []*Task
	historyByID map[string]*Task
	historySize int

	seq   uint64
	newID func() string
}

// NewCatalog creates an empty catalog. historySize <= 0 disables retention
// of pruned tasks.
func NewCatalog(historySize int) *Catalog {
	if historySize < 0 {
		historySize = 0
	}
	return &Catalog{
		live:        make(map[string]*Task),
		byPool:      make(map[string][]*Task),
		historyByID: make(map[string]*Task),
		historySize: historySize,
		newID:       uuid.NewString,
	}
}

// Add stores a new pending task built from def and returns it.
func (c *Catalog) Add(def Definition, now float64) *Task {
	c.seq++
	t := &Task{
		ID:          c.newID(),
		Seq:         c.seq,
		Def:         def.Clone(),
		Status:      StatusPending,
		SubmittedAt: now,
	}
	c.live[t.ID] = t
	c.byPool[def.Pool] = append(c.byPool[def.Pool], t)
	return t
}

// Get finds a task by id among live tasks, then retained history.
func (c *Catalog) Get(id string) (*Task, bool) {
	if t, ok := c.live[id]; ok {
		return t, true
	}
	t, ok := c.historyByID[id]
	return t, ok
}

// Live finds a task that has not been pruned yet.
func (c *Catalog) Live(id string) (*Task, bool) {
	t, ok := c.live[id]
	return t, ok
}

// Pending lists pending tasks of a pool in submission order.
func (c *Catalog) Pending(pool string) []*Task {
	return c.filter(pool, func(s Status) bool { return s == StatusPending })
}

// Active lists assigned or in-progress tasks of a pool in submission order.
func (c *Catalog) Active(pool string) []*Task {
	return c.filter(pool, Status.IsActive)
}

func (c *Catalog) PendingCount(pool string) int {
	n := 0
	for _, t := range c.byPool[pool] {
		if t.Status == StatusPending {
			n++
		}
	}
	return n
}

// NextPending returns the highest-priority pending task of a pool. The
// scan keeps the first maximum it sees, so equal priorities resolve to the
// earliest submission.
func (c *Catalog) NextPending(pool string) *Task {
	var best *Task
	for _, t := range c.byPool[pool] {
		if t.Status != StatusPending {
			continue
		}
		if best == nil || t.Def.Priority > best.Def.Priority {
			best = t
		}
	}
	return best
}

// Prune drops completed and cancelled tasks from the live index and moves
// them into history. It returns the number of tasks pruned.
func (c *Catalog) Prune() int {
	pruned := 0
	for pool, tasks := range c.byPool {
		kept := tasks[:0]
		for _, t := range tasks {
			if t.Status.IsTerminal() {
				delete(c.live, t.ID)
				c.remember(t)
				pruned++
				continue
			}
			kept = append(kept, t)
		}
		for i := len(kept); i < len(tasks); i++ {
			tasks[i] = nil
		}
		if len(kept) == 0 {
			delete(c.byPool, pool)
		} else {
			c.byPool[pool] = kept
		}
	}
	return pruned
}

func (c *Catalog) remember(t *Task) {
	if c.historySize == 0 {
		return
	}
	c.history = append(c.history, t)
	c.historyByID[t.ID] = t
	if over := len(c.history) - c.historySize; over > 0 {
		for _, old := range c.history[:over] {
			delete(c.historyByID, old.ID)
		}
		c.history = append([]*Task(nil), c.history[over:]...)
	}
}

// All returns every live task ordered by submission.
func (c *Catalog) All() []*Task {
	out := make([]*Task, 0, len(c.live))
	for _, t := range c.live {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// History returns retained terminal tasks, oldest first.
func (c *Catalog) History() []*Task {
	return append([]*Task(nil), c.history...)
}

// Seq returns the last submission sequence number handed out.
func (c *Catalog) Seq() uint64 {
	return c.seq
}

// Load replaces the catalog contents with restored tasks. Live tasks are
// re-indexed in Seq order; seq continues from the highest value seen.
func (c *Catalog) Load(live, history []Task, seq uint64) {
	c.live = make(map[string]*Task, len(live))
	c.byPool = make(map[string][]*Task)
	c.history = nil
	c.historyByID = make(map[string]*Task)

	sorted := make([]Task, len(live))
	copy(sorted, live)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })
	for i := range sorted {
		t := sorted[i].Clone()
		c.live[t.ID] = &t
		c.byPool[t.Def.Pool] = append(c.byPool[t.Def.Pool], &t)
		if t.Seq > seq {
			seq = t.Seq
		}
	}
	for i := range history {
		t := history[i].Clone()
		c.remember(&t)
		if t.Seq > seq {
			seq = t.Seq
		}
	}
	c.seq = seq
}

func (c *Catalog) filter(pool string, keep func(Status) bool) []*Task {
	var out []*Task
	for _, t := range c.byPool[pool] {
		if keep(t.Status) {
			out = append(out, t)
		}
	}
	return out
}
