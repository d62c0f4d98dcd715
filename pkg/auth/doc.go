// Package auth defines the principal model and the ordered permission level
// lattice used by the registry's permission resolver. Authentication itself
// is external: every operation receives an already-authenticated Principal.
package auth
