package gateway

import (
	"context"
	"net/http"

	"github.com/kawaiiTaiga/project-SABA/health"
)

// Device is the part of the device runtime the gateway drives.
//
// device.Runtime implements it. PublishStatusNow, Reannounce and
// ClearRetained fail with errors.ErrNotConnected while the transport is
// down; FactoryReset always runs.
type Device interface {
	DeviceID() string
	IsConnected() bool
	PublishStatusNow(ctx context.Context) error
	Reannounce(ctx context.Context) error
	ClearRetained(ctx context.Context) error
	FactoryReset(ctx context.Context) error
	Health() health.Status
}

// HTTPHandler is implemented by tools and other collaborators that expose
// their own endpoints on the device HTTP server.
//
// The prefix parameter is the URL path prefix for the handler, ending in "/".
// A camera tool registered at "/" might expose "/last.jpg":
//
//	func (c *Camera) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
//	    mux.HandleFunc("GET "+prefix+"last.jpg", c.handleLast)
//	}
type HTTPHandler interface {
	RegisterHTTPHandlers(prefix string, mux *http.ServeMux)
}
