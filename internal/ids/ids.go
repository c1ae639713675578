package ids

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

const shortLength = 12

const (
	FormatUUID  = "uuid"
	FormatShort = "short"
)

// Generator hands out ids that are unique for the life of the process.
type Generator interface {
	NewID() string
}

type GeneratorFunc func() string

func (f GeneratorFunc) NewID() string { return f() }

// UUID generates random (v4) UUID strings.
var UUID Generator = GeneratorFunc(uuid.NewString)

// Short generates 16-character URL-safe ids from 12 random bytes.
var Short Generator = GeneratorFunc(func() string {
	bytes := make([]byte, shortLength)
	if _, err := rand.Read(bytes); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(bytes)
})

func ForFormat(format string) (Generator, error) {
	switch format {
	case "", FormatUUID:
		return UUID, nil
	case FormatShort:
		return Short, nil
	default:
		return nil, fmt.Errorf("unknown id format: %s", format)
	}
}
