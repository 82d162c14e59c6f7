// Package identity defines the fixed pool of identities clients may claim.
package identity

import (
	"errors"
	"fmt"
	"strings"
)

// FallbackColor is used for participants whose id is not part of the pool.
const FallbackColor = "rgb(128,128,128)"

var (
	// ErrEmptyPool indicates no identities were configured.
	ErrEmptyPool = errors.New("identity: pool is empty")
	// ErrInvalidIdentity indicates an identity without an id.
	ErrInvalidIdentity = errors.New("identity: invalid identity")
	// ErrDuplicateIdentity indicates two identities share an id.
	ErrDuplicateIdentity = errors.New("identity: duplicate identity")
)

// Identity is a claimable user profile.
type Identity struct {
	ID    string `json:"id" mapstructure:"id"`
	Name  string `json:"name" mapstructure:"name"`
	Color string `json:"color" mapstructure:"color"`
}

// Pool is an immutable, ordered set of identities.
type Pool struct {
	ordered []Identity
	byID    map[string]Identity
}

// DefaultIdentities returns the built-in pool.
func DefaultIdentities() []Identity {
	return []Identity{
		{ID: "user1", Name: "Léo", Color: "rgb(66,133,244)"},
		{ID: "user2", Name: "Alexis", Color: "rgb(244,66,66)"},
		{ID: "user3", Name: "Louis", Color: "rgb(244,244,66)"},
	}
}

// NewPool validates identities and builds a pool.
func NewPool(identities []Identity) (Pool, error) {
	if len(identities) == 0 {
		return Pool{}, ErrEmptyPool
	}
	pool := Pool{
		ordered: make([]Identity, 0, len(identities)),
		byID:    make(map[string]Identity, len(identities)),
	}
	for index, candidate := range identities {
		candidate.ID = strings.TrimSpace(candidate.ID)
		if candidate.ID == "" {
			return Pool{}, fmt.Errorf("%w: entry %d has no id", ErrInvalidIdentity, index)
		}
		if _, exists := pool.byID[candidate.ID]; exists {
			return Pool{}, fmt.Errorf("%w: %s", ErrDuplicateIdentity, candidate.ID)
		}
		if strings.TrimSpace(candidate.Name) == "" {
			candidate.Name = candidate.ID
		}
		if strings.TrimSpace(candidate.Color) == "" {
			candidate.Color = FallbackColor
		}
		pool.ordered = append(pool.ordered, candidate)
		pool.byID[candidate.ID] = candidate
	}
	return pool, nil
}

// Lookup returns the identity registered under id.
func (p Pool) Lookup(id string) (Identity, bool) {
	identity, ok := p.byID[id]
	return identity, ok
}

// Profile returns the display profile for id, falling back to the id itself and a
// neutral color for ids outside the pool.
func (p Pool) Profile(id string) Identity {
	if identity, ok := p.byID[id]; ok {
		return identity
	}
	return Identity{ID: id, Name: id, Color: FallbackColor}
}

// All returns the identities in configuration order.
func (p Pool) All() []Identity {
	out := make([]Identity, len(p.ordered))
	copy(out, p.ordered)
	return out
}
