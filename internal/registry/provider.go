package registry

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("provider not found")
var ErrInvalidInput = errors.New("invalid registration input")

// ProviderID uniquely identifies one registered service instance.
type ProviderID uuid.UUID

func NewProviderID() ProviderID {
	return ProviderID(uuid.Must(uuid.NewV7()))
}

func ParseProviderID(value string) (ProviderID, error) {
	parsed, err := uuid.Parse(value)
	if err != nil {
		return ProviderID{}, err
	}
	return ProviderID(parsed), nil
}

func (id ProviderID) String() string {
	return uuid.UUID(id).String()
}

// Provider is one registered service instance: identity, the endpoint
// consumers should call, and the heartbeat state that keeps it listed.
//
// Tags are a set: registration drops empty strings and duplicates,
// keeping first-occurrence order. LastHeartbeatAt starts equal to
// CreatedAt and only ever moves forward.
type Provider struct {
	ID              ProviderID
	Service         string
	Endpoint        string
	Tags            []string
	CreatedAt       time.Time
	LastHeartbeatAt time.Time
	TTL             time.Duration
}

// Age returns how long ago the provider registered.
func (p Provider) Age(now time.Time) time.Duration {
	return now.Sub(p.CreatedAt)
}

// HeartbeatAge returns how long ago the provider last heartbeated.
func (p Provider) HeartbeatAge(now time.Time) time.Duration {
	return now.Sub(p.LastHeartbeatAt)
}

// Expired reports whether the provider has gone unheartbeated for
// longer than its TTL. A provider exactly at its TTL is not expired.
func (p Provider) Expired(now time.Time) bool {
	return p.HeartbeatAge(now) > p.TTL
}
