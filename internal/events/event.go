// Package events turns provider lifecycle notifications into audit or
// delete actions against the findings store.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/pankaj-dahiya-devops/cspm-auditor/internal/models"
)

// Kind is the lifecycle class of an event.
type Kind string

const (
	KindCreate Kind = "create"
	KindDelete Kind = "delete"
	KindModify Kind = "modify"
	// KindIgnore marks API calls that cannot change security posture.
	KindIgnore Kind = "ignore"
)

// ErrMalformed marks an event that cannot be routed. It maps to a 400
// result and is never retried.
var ErrMalformed = errors.New("malformed event")

// Event is one lifecycle notification for one resource.
type Event struct {
	Kind         Kind                `json:"kind"`
	ResourceKind models.ResourceKind `json:"resource_kind"`
	ResourceName string              `json:"resource_name"`
	Region       string              `json:"region,omitempty"`
	AccountID    string              `json:"account_id,omitempty"`
	EventName    string              `json:"event_name,omitempty"`
	EventTime    time.Time           `json:"event_time,omitempty"`
}

// Validate reports whether e carries enough to be routed.
func (e Event) Validate() error {
	if !e.ResourceKind.Valid() {
		return fmt.Errorf("%w: unknown resource kind %q", ErrMalformed, e.ResourceKind)
	}
	if e.ResourceName == "" {
		return fmt.Errorf("%w: %s name is required", ErrMalformed, e.ResourceKind)
	}
	switch e.Kind {
	case KindCreate, KindDelete, KindModify, KindIgnore:
		return nil
	}
	return fmt.Errorf("%w: unknown event kind %q", ErrMalformed, e.Kind)
}
