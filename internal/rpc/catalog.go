package rpc

import "github.com/durablehost/go-sdk/internal/schema"

// Method is one entry in a directional schema catalogue: a name plus the
// schema its request payload must satisfy and, for client-originated
// calls, the schema its response value must satisfy. Response is nil for
// calls whose reply is a bare boolean acknowledgement rather than a typed
// value.
type Method struct {
	Name     string
	Request  schema.Schema
	Response schema.Schema
}

// Catalog is a named directional set of methods — either Client→Server or
// Server→Client, per spec §3.
type Catalog map[string]Method

// Lookup returns the method named name, or ok=false if the catalogue does
// not define it — an unknown method is always a caller bug, never a wire
// condition to tolerate silently.
func (c Catalog) Lookup(name string) (Method, bool) {
	m, ok := c[name]
	return m, ok
}
