// Package builtin is the static table of adapters compiled into the binary.
package builtin

import (
	"eventripper/internal/adapter"
	"eventripper/internal/adapters/eventsfile"
	"eventripper/internal/adapters/htmllist"
	"eventripper/internal/adapters/icsfeed"
	"eventripper/internal/adapters/jsonlist"
	"eventripper/internal/adapters/ticketapi"
)

// Register adds every built-in type and custom adapter to r.
func Register(r *adapter.Registry) {
	r.Register(icsfeed.Type, icsfeed.New)
	r.Register(htmllist.Type, htmllist.New)
	r.Register(jsonlist.Type, jsonlist.New)
	r.Register(ticketapi.Type, ticketapi.New)

	r.RegisterCustom(eventsfile.Name, eventsfile.New)
}

// NewRegistry returns a registry holding the built-in adapters.
func NewRegistry() *adapter.Registry {
	r := adapter.NewRegistry()
	Register(r)
	return r
}
