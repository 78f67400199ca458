// Package ingest coordinates one synchronization run between the remote
// library and the local store.
//
// A run moves through fixed phases:
//
//	collections  →  fetch the collection forest, persist it, build filter
//	items        →  stream pages, filter + upsert each record
//	deletions    →  fetch tombstones, remove them (incremental runs only)
//	cursor       →  persist the highest version seen
//
// A remote failure anywhere aborts the run. Upserts already committed are
// retained: they are idempotent, and because the cursor only advances
// after the item phase completes, the next run re-fetches and re-applies
// whatever the aborted run lost.
package ingest
