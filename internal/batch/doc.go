// Package batch drives a set of independently running external processes to
// completion by cooperative polling.
//
// Overview
// A Scheduler owns at most one active batch. Start spawns one process per
// model.Job and runs the first poll tick synchronously. That tick arms a
// repeating Host timer and sets the host keepalive flag; every following tick
// reaps finished Handles, recomputes the done/total counters and shows a
// transient progress message through a Reporter.
//
// Data flow:
//
//	caller        Scheduler                 Host              Spawner
//	  |              |                        |                   |
//	  | Start(b) --->| Spawn(job) x N --------------------------->|
//	  |              | tick()                 |                   |
//	  |              |  ScheduleRepeating --->|                   |
//	  |              |  SetKeepalive(true) -->|                   |
//	  |              |<------- tick() --------| every interval    |
//	  |              |  ... done == total     |                   |
//	  |              |  remove scratch dir    |                   |
//	  |              |  SetKeepalive(false) ->|                   |
//	  |              |  Timer.Cancel() ------>|                   |
//
// Invariants:
//   - At most one batch is active; Start on a busy scheduler returns ErrBusy
//     and leaves the active batch untouched.
//   - Start with no jobs returns ErrEmptyBatch and never arms a timer.
//   - 0 <= Done <= Total and Total is fixed for the life of a batch.
//   - The scratch directory is removed at most once, only after the drain.
//   - The keepalive flag is set and cleared together with timer arm/cancel.
//     A timer the host refuses to arm leaves keepalive untouched and Start
//     returns ErrSchedule.
//
// Liveness is the only thing observed: a process exiting with an error
// still counts as done, and a process that never exits stalls the batch.
package batch
