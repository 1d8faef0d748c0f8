// Package httpx holds the shared HTTP client used for upstream API
// calls, so every connector observes the same timeout policy.
package httpx

import (
	"net/http"
	"time"
)

const defaultExternalHTTPTimeout = 30 * time.Second

var externalHTTPClient = &http.Client{
	Timeout: defaultExternalHTTPTimeout,
}

// Client returns the shared external HTTP client.
func Client() *http.Client {
	return externalHTTPClient
}

// ConfigureExternalHTTPClient sets the shared client's timeout from a
// seconds value; values below 1 restore the default. Returns the
// effective timeout.
func ConfigureExternalHTTPClient(seconds int) time.Duration {
	timeout := defaultExternalHTTPTimeout
	if seconds > 0 {
		timeout = time.Duration(seconds) * time.Second
	}
	externalHTTPClient.Timeout = timeout
	return timeout
}
