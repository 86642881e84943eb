package env

import (
	"strconv"
	"strings"
	"time"
)

// Get returns the value of the environment variable and whether it was set
func Get(key string) (string, bool) {
	v, ok := lookup(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

// GetOr returns the value of key, or fallback when unset or empty
func GetOr(key, fallback string) string {
	if v, ok := Get(key); ok && v != "" {
		return v
	}
	return fallback
}

// Bool parses key as a boolean. Unparseable values count as unset.
func Bool(key string) (bool, bool) {
	v, ok := Get(key)
	if !ok || v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// Duration parses key with time.ParseDuration. Unparseable values count as unset.
func Duration(key string) (time.Duration, bool) {
	v, ok := Get(key)
	if !ok || v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}
