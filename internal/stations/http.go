package stations

import (
	"crypto/tls"
	"net/http"
	"time"
)

// NewHTTPClient builds the client used for both directory and detail calls.
// Timeout zero leaves cancellation to the context. skipTLSVerify exists for
// staging mirrors of the station API that serve self-signed certificates.
func NewHTTPClient(timeout time.Duration, skipTLSVerify bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if skipTLSVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via http.insecure_skip_verify
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}
