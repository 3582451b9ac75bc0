package env

import "os"

// Get returns the named environment variable, or def when it is unset or
// empty.
func Get(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
