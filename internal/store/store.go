// Package store defines the opaque key/value contract the engine and gear
// layers persist through. Values are opaque JSON; keys are namespaced
// ("patch:<id>", "gear:<id>").
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get and Delete for absent keys.
var ErrNotFound = errors.New("key not found")

// Store is the persistence collaborator. Implementations must be safe for
// concurrent use; no transactions are required.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

const (
	patchPrefix = "patch:"
	gearPrefix  = "gear:"
)

// PatchKey returns the storage key for a patch id.
func PatchKey(id string) string { return patchPrefix + id }

// GearKey returns the storage key for a gear id.
func GearKey(id string) string { return gearPrefix + id }

// PatchPrefix is the key prefix for listing patches.
func PatchPrefix() string { return patchPrefix }

// GearPrefix is the key prefix for listing gears.
func GearPrefix() string { return gearPrefix }
