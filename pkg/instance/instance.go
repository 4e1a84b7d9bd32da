package instance

import (
	"os"
	"strings"
)

// EnvInstanceID overrides the process identity used in logs and lock owners.
const EnvInstanceID = "PFMETRICS_INSTANCE_ID"

// GetID returns the configured instance id, then the hostname, then "local".
func GetID() string {
	if id := strings.TrimSpace(os.Getenv(EnvInstanceID)); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
