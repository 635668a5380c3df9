// Package algorithm runs one macro step of a co-simulation: it walks the
// cycle order, exchanges values along connections and iterates cyclic
// groups to a fixed point.
//
// The caller checkpoints all slaves with [Engine.Save] before each attempt
// and passes the checkpoints to [Engine.Step]. When the attempt fails to
// converge or a slave rejects the step, every slave is restored before
// Step returns, so a retry starts from identical state.
//
// # Thread Safety
//
// An Engine drives its slaves from one goroutine, except in parallel mode
// where cycles of the same level run concurrently. Each slave is still only
// touched by one goroutine at a time.
package algorithm
