// Package driver implements the exploration driver of the model checker.
//
// The driver enumerates the executions of a program that a memory model
// allows, building each one as an execution graph and never exploring two
// executions with the same reads-from and coherence choices.
//
// Exploration Algorithm:
//
//  1. Run the program to completion or until every thread is blocked. Each
//     visible action is answered by the driver, which appends the matching
//     event to the graph. A new read picks a write to read from and queues
//     the other candidates as forward revisits; a new write queues its other
//     legal coherence positions and a backward revisit for every earlier
//     read that could read from it.
//  2. Record the finished execution: check consistency, count it as
//     complete or blocked, and reject duplicates.
//  3. Pop the pending alternative with the highest stamp, cut the graph
//     back to that stamp and apply it: re-point a read, move a write in
//     coherence order, or restore the causal prefix of a write and let an
//     older read read from it.
//  4. Replay the cut graph from the start and continue at step 1 until no
//     alternative is left.
//
// Pending alternatives live in a stamp-indexed worklist; backward revisits
// already tried are remembered in a revisit set keyed by the restored
// prefix, so the same continuation is never queued twice.
//
// A Driver is owned by one goroutine. Parallel exploration runs several
// drivers, each on its own graph, fed by the worker pool.
package driver
