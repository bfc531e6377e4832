// Package dispatch is the resource-constrained task dispatcher.
//
// A Dispatcher owns a set of worker pools and the tasks submitted against
// them. Each worker cycles available → en_route → working → returning →
// available; phase lengths come from the task's durations scaled by the
// pool's speed multipliers. Time only moves when the caller invokes Tick.
//
// Tick order:
//   - every worker of every pool applies at most one due phase transition
//   - every pool assigns idle workers to its highest-priority pending tasks
//   - completed and cancelled tasks are pruned into bounded history
//
// Assignment picks the highest priority; equal priorities go to the
// earliest submission. SubmitTask also runs an assignment pass for its pool
// so an idle worker leaves in the same call.
//
// All state sits behind one mutex. Notifications raised during an
// operation are buffered and handed to the sink after the mutex is
// released. Batches from concurrent calls reach the sink in the order the
// calls changed state, so a cancel is always seen before the reassignment
// of the worker it freed.
//
// Error handling:
//   - unknown pool on submit → ErrUnknownPool, nothing is stored
//   - duplicate pool id → ErrDuplicatePool, nothing changes
//   - bad pool config → ErrInvalidPool
//   - bad task definition → ErrInvalidTask
//   - cancel of an unknown or finished task → false, no notification
package dispatch
