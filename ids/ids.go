// Package ids computes the stable 32-bit ids that identify services and
// methods on the wire.
//
// Both endpoints must derive the same id from the same name without any
// shared registry, so the hash has to be deterministic and cheap enough to
// evaluate on a microcontroller. The scheme is the classic "hash * 65599"
// accumulator seeded with the string length, truncated to 32 bits.
package ids

// HashConstant is the multiplier for the 65599 hash.
const HashConstant uint32 = 65599

// Calculate returns the id for a service or method name, e.g.
// Calculate("pico.EchoService") or Calculate("Echo").
func Calculate(name string) uint32 {
	hash := uint32(len(name))
	coefficient := HashConstant

	for _, b := range []byte(name) {
		hash += uint32(b) * coefficient
		coefficient *= HashConstant
	}

	return hash
}
