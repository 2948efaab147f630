package muid

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aidarkhanov/nanoid/v2"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ErrUnknownSource is returned by ParseSource for unsupported names.
var ErrUnknownSource = errors.New("unknown id source")

// Source produces string identifiers.
type Source func() string

// NanoAlphabet is the alphabet used by the NanoID source.
const NanoAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Native returns MUIDs from the process-wide generator.
func Native() Source {
	return MakeString
}

// UUID returns random (version 4) UUIDs.
func UUID() Source {
	return func() string {
		return uuid.NewString()
	}
}

// ULID returns lexically sortable ULIDs.
func ULID() Source {
	return func() string {
		return ulid.Make().String()
	}
}

// NanoID returns NanoIDs of the given size over NanoAlphabet. Should the
// random source fail, a MUID is returned instead.
func NanoID(size int) Source {
	if size <= 0 {
		size = 21
	}
	return func() string {
		id, err := nanoid.GenerateString(NanoAlphabet, size)
		if err != nil {
			return MakeString()
		}
		return id
	}
}

// ParseSource maps a configuration name (muid, uuid, ulid, nanoid) to a Source.
func ParseSource(name string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "muid":
		return Native(), nil
	case "uuid":
		return UUID(), nil
	case "ulid":
		return ULID(), nil
	case "nanoid":
		return NanoID(21), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSource, name)
}
