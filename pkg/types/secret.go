package types

// Secret wraps sensitive byte material (decrypted private keys) so it cannot
// leak through logging or serialization. Callers use the bytes transiently
// for one signing or sending operation and call Zero when done.
type Secret struct {
	b []byte
}

// NewSecret wraps raw key material
func NewSecret(b []byte) *Secret {
	return &Secret{b: b}
}

// Bytes returns the underlying material. The slice is shared, not copied;
// it becomes invalid after Zero.
func (s *Secret) Bytes() []byte {
	if s == nil {
		return nil
	}
	return s.b
}

// Zero overwrites the underlying material
func (s *Secret) Zero() {
	if s == nil {
		return
	}
	for i := range s.b {
		s.b[i] = 0
	}
	s.b = nil
}

// String implements fmt.Stringer and always redacts
func (s *Secret) String() string {
	return "[REDACTED]"
}

// GoString redacts %#v formatting as well
func (s *Secret) GoString() string {
	return "types.Secret{[REDACTED]}"
}

// MarshalJSON never emits the material
func (s *Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}
