// Package auth validates the bearer tokens that protect the admin API.
//
// Tokens are HS256 JWTs signed with a shared secret. The role claim decides
// what the holder may do; the admin API requires the "admin" role.
package auth
