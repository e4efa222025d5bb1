// Package prover is the mock prover runtime.
//
// A Client dials the aggregator and registers; the resulting Session reads
// aggregator requests in order, hands each to the Dispatcher together with
// the per-session State, and writes any response through a bounded queue.
// Service wires the session to the fixture bundle, the auxiliary executor and
// hashdb services and the admin endpoint.
package prover
