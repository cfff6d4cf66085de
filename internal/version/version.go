// ABOUTME: Version and product identification
// ABOUTME: Reported by -version, the startup log and the device probe
package version

import "fmt"

const (
	Version      = "0.3.0"
	Product      = "Sendspin Playback"
	Manufacturer = "Sendspin"
)

// String returns the product line shown to users
func String() string {
	return fmt.Sprintf("%s %s (%s)", Product, Version, Manufacturer)
}
