// Package model defines shared types for the relay.
package model

import "net/http"

// Version is a string type for dependency injection of the build version.
type Version string

// UpstreamResponse is a fully read upstream reply. The relay buffers the
// body because it must parse it before anything is written to the client.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the upstream answered with a 2xx status.
func (r *UpstreamResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
