// Package services implements the sync engine of the maintenance client.
//
// A sync cycle is pull-then-push:
//
//  1. PullReconciler fetches everything the server changed since the
//     watermark and applies it to the local cache in dependency order.
//  2. The Orchestrator advances the watermark, but only after a complete
//     pull, and never backwards.
//  3. ChangeTracker collects unsynced local records and pending deletions,
//     translating local foreign keys to server ids. Records whose references
//     are not known to the server yet stay queued for a later cycle.
//  4. PushReconciler submits the outbox as one batch and applies the
//     per-record acknowledgements.
//
// Scheduler runs cycles periodically and retries connectivity failures with
// exponential backoff.
//
// Every step is safe to abort and repeat: server upserts are matched by
// server id and client id, acknowledgements only mark a row synced if it
// was not edited since it was collected, and the server deduplicates pushed
// records by client id.
package services
