// Package pipeline provides pure, I/O-free construction of aggregation
// pipeline stages for the lookup-merge engine.
//
// Stage is a sealed interface using the marker method pattern; only types in
// this package implement it. Backends switch exhaustively over:
//
//	switch s := stage.(type) {
//	case Project:         // $project
//	case ComputedJoin:    // $lookup
//	case Flatten:         // $unwind, or $set + $arrayElemAt
//	case MaterializeInto: // $out
//	case Passthrough:     // caller-supplied stage, opaque to the engine
//	}
//
// Builders are deterministic: identical inputs yield identical stages. Render
// converts stages to bson documents for the store; it is the only place that
// knows MongoDB operator spelling.
package pipeline
