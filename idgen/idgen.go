// Package idgen supplies the id-generation collaborator consumed by the
// core when a caller does not supply a record id. Default implementation
// uses github.com/google/uuid, the teacher's id library.
package idgen

import "github.com/google/uuid"

// Generator produces opaque, collection-unique string ids.
type Generator interface {
	NewID() string
}

// UUID is the default Generator, backed by google/uuid v4 ids.
type UUID struct{}

func (UUID) NewID() string { return uuid.New().String() }

// Sequential is a deterministic Generator for tests; each call returns the
// next value in "<prefix><n>" form.
type Sequential struct {
	Prefix string
	n      int
}

func (s *Sequential) NewID() string {
	s.n++
	return s.Prefix + itoa(s.n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := [20]byte{}
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits[i:])
}
