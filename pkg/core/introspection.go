package core

import (
	"github.com/aretw0/introspection"
)

// CollectionState exposes internal state for observability.
type CollectionState struct {
	Name            string `json:"name"`
	Records         int    `json:"records"`
	Unconfirmed     int    `json:"unconfirmed"`
	QueueDepth      int    `json:"queue_depth"`
	Cells           int    `json:"cells"`
	Views           int    `json:"views"`
	Online          bool   `json:"online"`
	Started         bool   `json:"started"`
	Getted          bool   `json:"getted"`
	PersistenceType string `json:"persistence_type"`
	TransportType   string `json:"transport_type"`
}

// State implements introspection.Introspectable.
func (c *Collection) State() any {
	records := c.store.snapshot()
	unconfirmed := 0
	for _, r := range records {
		if r.Unconfirmed() {
			unconfirmed++
		}
	}

	return CollectionState{
		Name:            c.cfg.Name,
		Records:         len(records),
		Unconfirmed:     unconfirmed,
		QueueDepth:      c.queue.Len(),
		Cells:           c.sig.size(),
		Views:           c.views.len(),
		Online:          c.conn.Online(),
		Started:         c.started.Load(),
		Getted:          c.getted.Load(),
		PersistenceType: componentType(c.persist, "persistence"),
		TransportType:   componentType(c.transport, "transport"),
	}
}

// ComponentType implements introspection.Component.
func (c *Collection) ComponentType() string {
	return "collection"
}

func componentType(v any, fallback string) string {
	if v == nil {
		return "none"
	}
	if comp, ok := v.(introspection.Component); ok {
		return comp.ComponentType()
	}
	return fallback
}

var _ introspection.Introspectable = (*Collection)(nil)
var _ introspection.Component = (*Collection)(nil)
