// Package reindex rebuilds the index-store collections of every business,
// for example after switching embedding models or index backends.
//
// Businesses are rebuilt one at a time with retry and progress reporting.
// A failure in one business is recorded and the sweep moves on.
package reindex
