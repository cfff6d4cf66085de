// ABOUTME: Encoder interface definition
// ABOUTME: Common interface for float-to-device sample encoders
package encode

// Encoder encodes normalized float samples to device bytes
type Encoder interface {
	// Encode converts samples to a newly allocated byte slice
	Encode(samples []float32) ([]byte, error)

	// EncodeInto converts samples into dst without allocating
	EncodeInto(dst []byte, samples []float32) (int, error)

	// Close releases encoder resources
	Close() error
}

var _ Encoder = (*PCMEncoder)(nil)
