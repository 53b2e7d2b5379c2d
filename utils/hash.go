package utils

import "hash/fnv"

// HashString returns the FNV-1a 64-bit hash of s.
func HashString(s string) uint64 {

	h := fnv.New64a()
	if _, err := h.Write([]byte(s)); err != nil {
		return 0
	}
	return h.Sum64()
}
