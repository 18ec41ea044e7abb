package core

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

func HashContent(content []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(content))
}

// ShortHash is the content hash used in generated file names.
func ShortHash(content []byte) string {
	return HashContent(content)[:8]
}
