// Package client talks to the maintenance server's sync API.
//
// # Overview
//
// The package provides:
//  1. A transport-agnostic contract (see the Client interface) with the two
//     batch operations of a sync cycle: Pull and Push.
//  2. A concrete HTTP/JSON implementation (see HTTPClient) that attaches a
//     bearer credential, bounds every request with a timeout, and maps
//     transport failures and status codes to sentinel errors.
//
// # Error Handling
//
// Batch-level conditions are exposed as sentinel errors that callers can
// match with errors.Is:
//
//   - ErrUnavailable: connection refused or reset, timeouts, 429 and 5xx.
//     The cycle is aborted and may be retried later.
//   - ErrUnauthorized: 401/403, or a JWT credential that has already
//     expired. Retrying will not help until the credential is replaced.
//   - ErrBadResponse: any other non-2xx status or an undecodable body.
//
// Numbers inside pulled records are decoded as json.Number so server ids
// never lose precision.
//
// Concurrency & Contexts
//
// HTTPClient is safe for concurrent use. All operations accept
// context.Context and honor cancellation.
package client
