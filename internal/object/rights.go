package object

import "strings"

// Rights restrict which operations a handle permits on its dispatcher.
type Rights uint32

const (
	RightNone        Rights = 0
	RightDuplicate   Rights = 1 << 0
	RightTransfer    Rights = 1 << 1
	RightRead        Rights = 1 << 2
	RightWrite       Rights = 1 << 3
	RightExecute     Rights = 1 << 4
	RightMap         Rights = 1 << 5
	RightGetProperty Rights = 1 << 6
	RightSetProperty Rights = 1 << 7

	// RightSameRights is a sentinel accepted by duplicate and replace
	// meaning "copy the source handle's rights".
	RightSameRights Rights = 1 << 31
)

// Has reports whether every right in want is present.
func (r Rights) Has(want Rights) bool {
	return r&want == want
}

var rightNames = []struct {
	bit  Rights
	name string
}{
	{RightDuplicate, "DUPLICATE"},
	{RightTransfer, "TRANSFER"},
	{RightRead, "READ"},
	{RightWrite, "WRITE"},
	{RightExecute, "EXECUTE"},
	{RightMap, "MAP"},
	{RightGetProperty, "GET_PROPERTY"},
	{RightSetProperty, "SET_PROPERTY"},
	{RightSameRights, "SAME_RIGHTS"},
}

func (r Rights) String() string {
	if r == 0 {
		return "NONE"
	}
	var parts []string
	for _, rn := range rightNames {
		if r&rn.bit != 0 {
			parts = append(parts, rn.name)
		}
	}
	return strings.Join(parts, "|")
}

// DefaultRights returns the rights a freshly created handle of the given
// type carries.
func DefaultRights(t Type) Rights {
	base := RightDuplicate | RightTransfer | RightRead | RightWrite |
		RightGetProperty | RightSetProperty
	switch t {
	case TypeVMO:
		return base | RightMap | RightExecute
	case TypeIoMapping:
		return base | RightMap
	case TypeProcess, TypeThread:
		return base
	default:
		return base
	}
}
