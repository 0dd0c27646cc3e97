package publisher

import (
	"strconv"
	"strings"
)

// formatEventKey builds "{post_id}:{meta_key}"
func formatEventKey(postID uint64, metaKey string) string {
	var b strings.Builder
	b.Grow(len(metaKey) + 21)
	b.WriteString(strconv.FormatUint(postID, 10))
	b.WriteByte(':')
	b.WriteString(metaKey)
	return b.String()
}

// OperationName returns the short name of an operation, as used in payloads
func OperationName(op uint8) string {
	switch op {
	case OpInsert:
		return "c"
	case OpUpdate:
		return "u"
	case OpRestore:
		return "r"
	default:
		return "?"
	}
}
