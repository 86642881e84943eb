//go:build js && wasm

package env

import "github.com/syumai/workers/cloudflare"

// lookup reads Worker environment bindings. Bindings cannot be set to an
// empty string, so empty means unset.
func lookup(key string) (string, bool) {
	v := cloudflare.Getenv(key)
	return v, v != ""
}
