// Package api defines the core data types shared by every plotwise component.
//
// The package performs no I/O. It holds the dataset summary produced by the
// profiler, the visualization plan produced by the interpreter, the
// execution result produced by the local sandbox or the remote service,
// stored runs and ratings, and the two error families used throughout:
//
//   - [APIError]: structured errors returned at the HTTP surface
//   - [ExecutionError]: pipeline outcomes (generation, timeout, runtime,
//     io, remote) carried inside an [ExecutionResult] so that diagnostics
//     always reach the user
//
// Core types:
//   - [DatasetSummary]: ordered columns with inferred types and a row sample
//   - [VisualizationPlan]: requested chart kinds, target columns, complexity
//   - [ExecutionResult]: artifacts plus captured stdout/stderr/logs
//   - [Run]: a persisted attempt, linked to its dataset and prompt
//   - [RatingRecord]: user feedback attached to a run
package api
