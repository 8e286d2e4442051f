// Package detector finds safety violations in execution graphs.
//
// Unlike a runtime race detector, which sees a single interleaving and has to
// maintain shadow state for every address, the checks here run against a
// complete execution graph: the happens-before view of every event is already
// known, so a race is simply a pair of conflicting accesses neither of which
// is in the other's view.
//
// Detection Algorithm:
//
//  1. The driver appends the event to the graph
//  2. It calls the matching On* method of the Detector
//  3. The Detector scans the other accesses of the location (or the
//     allocations covering it) and compares views
//  4. The first violation found is returned as a *report.Violation
//
// Checks:
//
//   - Data races: two accesses to the same location, at least one a write
//     and at least one non-atomic, unordered by happens-before. Disk
//     locations are excluded; their ordering is the job of persistency.
//   - Memory validity: heap accesses need an allocation that happens before
//     them and no free that happens before them. A free that is unordered
//     with an access is a malloc/free race.
//   - Frees: of a non-allocated address, twice (double free), or concurrent
//     with an access.
//   - Uninitialized reads: heap reads that observe the initializer.
//   - Synchronization misuse: joins of threads that do not exist, unlocks of
//     locks the thread does not hold.
//
// A Detector is stateless apart from its options, so one value can serve an
// exploration for its whole lifetime.
package detector
