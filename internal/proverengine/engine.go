// Package proverengine defines the boundary between the enclave dispatcher
// and the zero-knowledge prover, which is treated as an external black-box
// primitive. It also ships a small deterministic engine used to exercise
// the rest of the system end to end in tests.
package proverengine

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
)

// Result is what a program execution yields: a 32-byte verification-key
// digest and the public values the program committed to.
type Result struct {
	Vkey         [32]byte
	PublicValues []byte
}

// ErrCycleLimitExceeded is returned when the engine cannot complete the
// program within the given budget.
var ErrCycleLimitExceeded = errors.New("proverengine: cycle limit exceeded")

// Engine executes a program against structured input and returns a proof's
// public values and verification key. A production build wires this to an
// actual zkVM prover; it is out of scope for this repository.
type Engine interface {
	Execute(ctx context.Context, program, stdin []byte, cycleLimit uint32) (Result, error)
}

// FibonacciEngine is a deterministic test double: it interprets stdin as a
// little-endian uint32 n, computes fib(n) mod 2^32, and returns it as the
// last 4 bytes of the public values, little-endian encoded. It ignores the
// program bytes entirely, and derives a stable vkey from their length so
// tests can assert the same program always yields the same vkey.
type FibonacciEngine struct{}

func (FibonacciEngine) Execute(_ context.Context, program, stdin []byte, cycleLimit uint32) (Result, error) {
	if len(stdin) < 4 {
		return Result{}, fmt.Errorf("proverengine: stdin must contain a little-endian u32")
	}
	n := binary.LittleEndian.Uint32(stdin[:4])

	// A cheap stand-in for a cycle budget: cap the iteration count at
	// cycleLimit so an unreasonably low budget fails instead of completing.
	if uint64(n) > uint64(cycleLimit) {
		return Result{}, ErrCycleLimitExceeded
	}

	var a, b uint32 = 0, 1
	for i := uint32(0); i < n; i++ {
		a, b = b, a+b
	}

	publicValues := make([]byte, 4)
	binary.LittleEndian.PutUint32(publicValues, a)

	var vkey [32]byte
	binary.LittleEndian.PutUint32(vkey[:4], uint32(len(program)))

	return Result{Vkey: vkey, PublicValues: publicValues}, nil
}
