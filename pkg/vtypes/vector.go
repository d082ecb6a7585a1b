// Package vtypes holds the data model shared across vgraph's storage,
// index, and query layers: vectors, nouns, verbs, and the closed type
// enumerations they're tagged with.
package vtypes

import (
	"math"

	"github.com/vgraph/vgraph/pkg/verrors"
)

// Dim is the fixed embedding dimension every Vector must have.
const Dim = 384

// Vector is a fixed-length, unit-normalized embedding.
type Vector []float32

// Norm returns the L2 norm of v.
func (v Vector) Norm() float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// Normalized reports whether v's norm is within 1±1e-2 of unit length,
// per spec §3.
func (v Vector) Normalized() bool {
	n := v.Norm()
	return math.Abs(n-1.0) <= 1e-2
}

// Normalize returns a copy of v scaled to unit length. If v has zero
// norm it returns an Invalid error, since a zero vector has no direction
// to normalize to (spec §8: "Vector with zero norm: rejected as
// Invalid").
func (v Vector) Normalize() (Vector, error) {
	n := v.Norm()
	if n == 0 {
		return nil, verrors.New("vector.normalize", verrors.Invalid, "", errZeroNorm)
	}
	out := make(Vector, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / n)
	}
	return out, nil
}

// Validate checks dimension and zero-norm, the two invariants the
// storage boundary enforces before accepting a vector for insertion.
func (v Vector) Validate() error {
	if len(v) != Dim {
		return verrors.New("vector.validate", verrors.Invalid, "", errBadDimension)
	}
	if v.Norm() == 0 {
		return verrors.New("vector.validate", verrors.Invalid, "", errZeroNorm)
	}
	return nil
}

// CosineDistance returns 1 - dot(a,b), valid when both are unit-norm,
// per spec §4.4 ("Distance: cosine over normalized vectors (equivalently
// 1 − dot-product)").
func CosineDistance(a, b Vector) float64 {
	var dot float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return 1 - dot
}

var (
	errZeroNorm     = vectorErr("vector has zero norm")
	errBadDimension = vectorErr("vector has wrong dimension")
)

type vectorErr string

func (e vectorErr) Error() string { return string(e) }
