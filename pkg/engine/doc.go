// Package engine orchestrates a visualization request end to end: it looks
// up the uploaded dataset, interprets the request into a plan, picks the
// local sandbox or the remote service, executes, persists the run and
// serves ratings, stats and script diffs over stored runs.
//
// Execution failures are never returned as Go errors. They are stored as
// runs whose ExecutionResult carries the error code and diagnostics, so a
// caller always gets a run record back once a request passed validation.
// Optional dependencies (remote executor, object store) use nil-safe
// composition.
package engine
