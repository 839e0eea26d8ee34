package webhook

import (
	"encoding/json"
	"time"

	"qbo-bridge/internal/common/errors"
)

// Payload is the top-level body of a QuickBooks webhook delivery.
type Payload struct {
	EventNotifications []EventNotification `json:"eventNotifications"`
}

// EventNotification groups the changes for a single company file.
type EventNotification struct {
	RealmID         string          `json:"realmId"`
	DataChangeEvent DataChangeEvent `json:"dataChangeEvent"`
}

// DataChangeEvent lists the entities that changed.
type DataChangeEvent struct {
	Entities []Entity `json:"entities"`
}

// Entity describes one changed object, e.g. an updated Invoice.
type Entity struct {
	Name        string    `json:"name"`
	ID          string    `json:"id"`
	Operation   string    `json:"operation"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// ParsePayload decodes a verified webhook body. It tolerates empty
// notification lists; Intuit sends those as connectivity probes.
func ParsePayload(body []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, errors.ValidationError("malformed webhook payload: " + err.Error())
	}
	return &p, nil
}

// EntityCount returns the total number of changed entities across all
// notifications in the payload.
func (p *Payload) EntityCount() int {
	n := 0
	for _, note := range p.EventNotifications {
		n += len(note.DataChangeEvent.Entities)
	}
	return n
}
