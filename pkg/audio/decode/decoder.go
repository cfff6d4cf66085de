// ABOUTME: Decoder interface definition
// ABOUTME: Common interface for device-byte decoders
package decode

// Decoder decodes device PCM bytes back to normalized float samples
type Decoder interface {
	// Decode converts PCM data to float samples
	Decode(data []byte) ([]float32, error)

	// Close releases decoder resources
	Close() error
}

var _ Decoder = (*PCMDecoder)(nil)
