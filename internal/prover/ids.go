package prover

import "math/rand/v2"

const (
	idLength   = 37
	idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// IDGenerator issues opaque correlation ids.
type IDGenerator interface {
	NewID() string
}

// RandomIDs draws 37 alphanumeric characters per id. Safe for concurrent use.
type RandomIDs struct{}

func (RandomIDs) NewID() string {
	b := make([]byte, idLength)
	for i := range b {
		b[i] = idAlphabet[rand.IntN(len(idAlphabet))]
	}
	return string(b)
}
