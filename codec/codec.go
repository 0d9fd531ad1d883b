// Package codec provides the serialization used for item payloads and
// results. Payloads are opaque bytes to the ledger; the codec is chosen by
// the engine and must be the same for every process sharing a ledger.
package codec

import "fmt"

// Codec serializes work arguments and results.
type Codec interface {
	// Marshal encodes v.
	Marshal(v any) ([]byte, error)

	// Unmarshal decodes data into v.
	Unmarshal(data []byte, v any) error

	// Name returns the codec identifier (e.g., "json", "msgpack").
	Name() string
}

// Codec name constants, used by configuration.
const (
	NameJSON    = "json"
	NameMsgpack = "msgpack"
)

// Default returns the JSON codec.
func Default() Codec { return JSON{} }

// Lookup returns a codec by name. An empty name selects JSON.
func Lookup(name string) (Codec, error) {
	switch name {
	case NameJSON, "":
		return JSON{}, nil
	case NameMsgpack:
		return Msgpack{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}
