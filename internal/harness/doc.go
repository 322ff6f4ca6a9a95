// Package harness runs merge scenarios against the in-memory store.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: acme_rename_default
//	description: "Matched orders get the customer name, others the default"
//	salt: run-a
//	swapMode: drop-then-rename
//	seed:
//	  orders:    [{id: 1, custId: A}, {id: 2, custId: Z}]
//	  customers: [{code: A, name: Acme}]
//	indexes:
//	  orders: [{keys: {custId: 1}}]
//	request:
//	  source: orders
//	  lookup: customers
//	  fields:
//	    name: {sourceKey: custId, lookupKey: code, renameTo: customerName, default: Unknown}
//	faults:
//	  - {op: rename, message: crash}
//	recover: true
//	expect:
//	  error: ""
//	assertions:
//	  - type: collection
//	    collection: orders
//	    docs: [{id: 1, custId: A, customerName: Acme}, {id: 2, custId: Z, customerName: Unknown}]
//	  - type: collections
//	    names: [customers, orders]
//
// The request uses the request file format. Documents are compared without
// their _id, in storage order, with numbers compared by value.
//
// # Assertion Types
//
//   - collection: the exact documents of a collection
//   - collections: the exact set of collection names
//   - indexes: the index names of a collection
//   - events: event kinds that must appear in this order
//   - count: the number of documents in a collection
//   - result: counters of the merge result (renamed, defaulted)
//
// # Faults and Recovery
//
// Faults make a store operation fail. With recover set, a failed run is
// resumed from the last finalize step it reported, the way the recover
// command resumes from the journal.
//
// # Deterministic Testing
//
// Every scenario runs on a fresh store with a fixed salt, so staging names
// and tokens repeat across runs. Golden snapshots record events with
// staging collections replaced by their role.
package harness
