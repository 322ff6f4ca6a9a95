// Package merge implements the cross-collection lookup-merge engine.
//
// Given a source and a lookup collection, a run computes for every source
// document one or more fields looked up from the lookup collection through
// arbitrary computed join keys, merges them under caller-chosen names with
// optional defaults, and replaces the source collection with the result.
//
// A run has four phases:
//
//	PREPARE       salt, staging names, deduped lookup projection, join-key
//	              indexes; read source indexes || create lookup-temp
//	LOOKUP-STAGE  pre-stages + projection $out lookup-temp;
//	              source identity projection || create source-temp with
//	              the source's indexes
//	MERGE-STAGE   one $lookup + first-match flatten per distinct
//	              (sourceKey, expression) pair, one alias per logical field,
//	              $out source-temp
//	FINALIZE      drop lookup-temp and source, apply defaults, rename
//	              aliases, rename source-temp to source
//
// Operations joined by || run concurrently; the first failure aborts the
// run. There is no rollback: a failed run leaves prefixed staging
// collections behind for staging.Manager.Sweep.
//
// Concurrent runs over overlapping collections are unsafe; callers must
// serialize them.
package merge
