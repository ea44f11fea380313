// Package secretstore defines the Store Client contract consumed by the rotation
// orchestrator.
//
// A secret store is treated as an opaque key/value store with version staging:
// every secret has a set of versions, and every version carries zero or more
// stage labels. The rotation protocol only relies on three labels:
//
//   - CURRENT: the credential in active use. The store guarantees at most one
//     version holds it at any time.
//   - PENDING: the rotation candidate. It may coexist with CURRENT while a
//     rotation is in flight.
//   - PREVIOUS: the superseded credential, kept as the last known good value.
//
// Labels follow a small state machine:
//
//	none ──createSecret──▶ PENDING ──finishSecret──▶ CURRENT ──finishSecret──▶ PREVIOUS
//
// Any other label is carried through untouched as a custom stage.
//
// # Implementing a Store Client
//
// Implementations must provide two store-side guarantees that the orchestrator
// relies on instead of locking:
//
//  1. PutSecretValue is put-if-absent keyed by (secretID, versionID). Writing the
//     same value twice is a no-op; writing a different value for an existing
//     version fails with ConflictError.
//  2. UpdateSecretVersionStage moves a label in a single atomic operation, so no
//     observer ever sees zero or two versions holding CURRENT.
//
// Lookups that match nothing must return NotFoundError so callers can tell a
// missing version apart from a transport failure (StoreError).
package secretstore
