// Package cli renders the local sync state for the command line.
//
// A Report lists, per entity type, how many rows the local cache holds, how
// many local edits are still waiting to be pushed and how many deletions the
// server has not confirmed yet, followed by the last error the server
// reported for each rejected record.
//
// Typical use:
//
//	r, err := cli.Collect(ctx, repo, watermark)
//	if err != nil { ... }
//	err = r.Write(os.Stdout)
package cli
