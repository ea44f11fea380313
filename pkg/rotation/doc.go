// Package rotation implements the client side of the four-phase secret rotation
// protocol.
//
// A rotation cycle is driven externally as four sequential invocations sharing
// one (secretID, token) pair:
//
//  1. createSecret: ensure a PENDING candidate exists for the token. New
//     credential material is produced only here.
//  2. setSecret: apply the candidate to the downstream service.
//  3. testSecret: prove the candidate works against the downstream service.
//  4. finishSecret: atomically move CURRENT onto the token.
//
// Each invocation executes exactly one phase through Orchestrator.Handle. The
// orchestrator refuses to act unless the store reports rotation enabled and the
// token staged PENDING, and it turns any replay against a token that already
// holds CURRENT into a logged no-op.
//
// # Idempotency
//
// Invocations are delivered at least once and may race. No local state is kept
// between invocations; the secret store is the single serialization point:
//
//   - createSecret reads before it writes and relies on the store's
//     put-if-absent semantics keyed by the token.
//   - finishSecret re-reads the staging map and issues a single atomic
//     stage move, skipping it entirely once the token is CURRENT.
//
// # Strategies
//
// The downstream-specific parts (generate, set, test) are supplied by a Strategy
// injected at construction:
//
//	orch := rotation.New(store, strategies.NewRandom(strategies.RandomOptions{}),
//	    rotation.WithLogger(logger))
//
//	outcome, err := orch.Handle(ctx, rotation.Request{
//	    SecretID: "arn:aws:secretsmanager:us-east-1:123456789012:secret:db/app",
//	    Token:    "c0ffee00-0000-4000-8000-000000000001",
//	    Step:     rotation.StepCreate,
//	})
//
// # Errors
//
// Every error returned by Handle can be classified with KindOf:
//
//   - KindPrecondition: the request was rejected before any mutation.
//   - KindState: the store is in a state the protocol cannot continue from.
//   - KindDownstream: the strategy failed; the original error is preserved.
//   - KindTransient: the store call failed; the caller owns retry policy.
package rotation
