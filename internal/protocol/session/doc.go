// Package session holds the prover<->aggregator session wire layer.
//
// It owns:
// - the registration handshake (one JSON line each way)
// - typed aggregator/prover message codecs over frame+tlv
// - transport settings, dial backoff and the bounded outbound queue
package session
