// Package guard is the safety gate between generated text and a database.
//
// A candidate is stripped of markdown fences and answer labels, classified as a
// single read-only statement, and rewritten so its outermost query returns at
// most a configured number of rows. The result is a SafeStatement; executors
// accept nothing else.
package guard
