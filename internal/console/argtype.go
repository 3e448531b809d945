package console

import (
	"errors"
	"strconv"
)

// ArgType is the closed set of console argument types.  Casting is explicit
// per variant and checked when the command tree is built, not per invocation.
type ArgType int

const (
	ArgInt ArgType = iota
	ArgFloat
	ArgString
)

func (t ArgType) String() string {
	switch t {
	case ArgInt:
		return "integer"
	case ArgFloat:
		return "float"
	case ArgString:
		return "string"
	}
	return "unknown"
}

var (
	errCastInt   = errors.New("cannot be cast to int")
	errCastFloat = errors.New("cannot be cast to float")
)

// cast converts a raw token to the typed value for this variant.
func (t ArgType) cast(raw string) (any, error) {
	switch t {
	case ArgInt:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, errCastInt
		}
		return v, nil
	case ArgFloat:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errCastFloat
		}
		return v, nil
	default:
		return raw, nil
	}
}
