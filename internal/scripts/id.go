package scripts

import (
	"encoding/hex"

	"github.com/google/uuid"
)

const shortIDLength = 21

// IDProvider mints script identifiers.
type IDProvider interface {
	NewID() (string, error)
}

type shortIDProvider struct{}

// NewShortIDProvider constructs an IDProvider issuing collision-resistant
// short ids derived from random UUIDs.
func NewShortIDProvider() IDProvider {
	return &shortIDProvider{}
}

func (p *shortIDProvider) NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	encoded := hex.EncodeToString(value[:])
	return encoded[:shortIDLength], nil
}
