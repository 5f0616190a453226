package repository

import (
	"fmt"
	"strconv"
)

// Offset cursors are opaque to callers; only the handle that issued one
// decodes it.
func encodeOffset(offset int) string {
	return strconv.Itoa(offset)
}

func decodeOffset(cursor string) (int, error) {
	offset, err := strconv.Atoi(cursor)
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("invalid page cursor %q", cursor)
	}
	return offset, nil
}
