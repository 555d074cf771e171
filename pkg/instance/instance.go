// Package instance identifies the host an engine session runs on.
package instance

import (
	"os"

	"github.com/denisbrodbeck/machineid"
)

// ID returns a stable host identifier keyed by app. The machine id is HMAC'd
// with app so the raw value never leaves the host. Falls back to the
// hostname when the machine id is unreadable (containers without
// /etc/machine-id).
func ID(app string) string {
	if id, err := machineid.ProtectedID(app); err == nil && len(id) >= 16 {
		return id[:16]
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "unknown"
}
