// utils/http.go
package utils

import (
	"net/http"
	"time"
)

// HTTPClient is the shared client for audio-bearing calls, which can run
// long on large recordings.
var HTTPClient = &http.Client{
	Timeout: 300 * time.Second,
}
