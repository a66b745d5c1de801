package capture

import (
	"strconv"
	"unicode/utf16"
)

// cyrb53 is a 53-bit string hash over UTF-16 code units.
func cyrb53(s string, seed uint32) uint64 {
	h1 := uint32(0xdeadbeef) ^ seed
	h2 := uint32(0x41c6ce57) ^ seed
	for _, ch := range utf16.Encode([]rune(s)) {
		h1 = (h1 ^ uint32(ch)) * 2654435761
		h2 = (h2 ^ uint32(ch)) * 1597334677
	}
	h1 = (h1 ^ (h1 >> 16)) * 2246822507
	h1 ^= (h2 ^ (h2 >> 13)) * 3266489909
	h2 = (h2 ^ (h2 >> 16)) * 2246822507
	h2 ^= (h1 ^ (h1 >> 13)) * 3266489909
	return uint64(2097151&h2)<<32 | uint64(h1)
}

// MessageID derives a stable id from a message's display triple.
func MessageID(timestamp, sender, content string) string {
	return strconv.FormatUint(cyrb53(timestamp+"-"+sender+"-"+content, 0), 16)
}
