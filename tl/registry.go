package tl

import "fmt"

// Decoder reads one boxed value's body (the constructor ID has already been
// consumed by the caller) and returns it as an Object.
type Decoder func(r *Reader) (Object, error)

// Registry is a constructor-ID-indexed dispatch table: an exhaustive
// decoder set built ahead of time into this map, never a runtime type
// registry keyed by reflect.Type.
type Registry struct {
	decoders map[ConstructorID]Decoder
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[ConstructorID]Decoder)}
}

// Register associates a constructor ID with its decoder. Registering the
// same ID twice is a programmer error and panics at init time.
func (reg *Registry) Register(id ConstructorID, dec Decoder) {
	if _, ok := reg.decoders[id]; ok {
		panic(fmt.Sprintf("tl: constructor %08x already registered", uint32(id)))
	}
	reg.decoders[id] = dec
}

// DecodeBoxed reads a constructor ID and dispatches to its decoder,
// returning ErrInvalidData for any constructor this Registry doesn't know.
func (reg *Registry) DecodeBoxed(r *Reader) (Object, error) {
	id, err := r.Constructor()
	if err != nil {
		return nil, err
	}
	dec, ok := reg.decoders[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown constructor %08x", ErrInvalidData, uint32(id))
	}
	return dec(r)
}

// Has reports whether id has a registered decoder.
func (reg *Registry) Has(id ConstructorID) bool {
	_, ok := reg.decoders[id]
	return ok
}
