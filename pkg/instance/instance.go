package instance

import (
	"os"
	"strings"
)

// lookupOrder lists the variables platforms use to name a process, most
// specific first.
var lookupOrder = []string{"WORKER_ID", "DYNO", "HOSTNAME"}

// GetID returns the process instance identifier or fallback when the
// environment names none.
func GetID(fallback string) string {
	for _, key := range lookupOrder {
		if id := strings.TrimSpace(os.Getenv(key)); id != "" {
			return id
		}
	}
	return fallback
}
