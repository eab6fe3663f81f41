// Package policy turns rule matches into a blocking decision.
//
// The decision is a fixed priority cascade, first satisfied rule wins:
//   - any CRITICAL match blocks
//   - two or more HIGH matches block
//   - any match with confidence >= 0.9 blocks
//   - otherwise the request is allowed
//
// Decide depends only on the multiset of matches, never on their order.
package policy
