// Package graph models the variable connections between co-simulation
// slaves and derives the order in which slaves are evaluated.
//
//   - [Graph]: registered slaves plus outlet-to-inlet [Connection]s
//   - [Transform]: affine mapping applied along a connection
//   - [Cycle]: strongly connected group of slaves, evaluated as a unit
//
// Connections are validated when added; a rejected connection leaves the
// graph untouched and returns a [ConnectionError] wrapping one of the
// package sentinels such as [ErrTypeMismatch].
//
// # Example
//
//	g := graph.New()
//	g.AddSlave(&slave.Slave{Name: "prey", Descriptor: preyDesc, Adapter: prey})
//	g.AddSlave(&slave.Slave{Name: "predator", Descriptor: predDesc, Adapter: pred})
//	g.AddConnection(graph.VarRef{"prey", "x"}, graph.VarRef{"predator", "x"}, graph.Identity())
//	cycles, _ := g.Cycles()
package graph
