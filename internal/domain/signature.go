package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"time"
)

// Signature is the fixed-length face encoding produced by the encoder.
type Signature []float32

// EuclideanDistance returns the L2 distance between two signatures.
// Signatures of different length are infinitely far apart.
func EuclideanDistance(a, b Signature) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}

	return math.Sqrt(sum)
}

// Key returns a stable hex digest of the signature's float32 representation.
func (s Signature) Key() string {
	buf := make([]byte, 4*len(s))
	for i, v := range s {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// Identity is a registered person as known to the similarity index
type Identity struct {
	Identifier       string    `json:"identifier" db:"identifier"`
	DisplayReference string    `json:"photo" db:"photo"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// Neighbor is the nearest stored identity for a query signature
type Neighbor struct {
	Identity
	Distance float64
}
