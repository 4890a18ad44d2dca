// Package dd implements Delta Debugging: ddmin, which reduces a failing
// configuration to a 1-minimal failing subset, and ddiso, which narrows a
// passing and a failing configuration until their difference is 1-minimal.
//
// Both algorithms are domain-independent. A configuration is an ordered slice
// of comparable circumstances (characters, lines, patch hunks, test cases),
// and the only knowledge the search has of the domain is the Oracle supplied
// by the caller. Oracle calls are sequential unless Options.Parallelism asks
// for speculative evaluation of a whole scan step; either way the decisions
// taken are the ones the sequential scan would take.
package dd
