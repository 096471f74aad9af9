package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// ParseRevision splits "<generation>-<digest>" into its parts.
func ParseRevision(rev string) (int, string, error) {
	gen, digest, ok := strings.Cut(rev, "-")
	if !ok || digest == "" {
		return 0, "", fmt.Errorf("malformed revision %q", rev)
	}
	n, err := strconv.Atoi(gen)
	if err != nil || n < 1 {
		return 0, "", fmt.Errorf("malformed revision %q", rev)
	}
	return n, digest, nil
}

// Generation returns the generation of rev, or 0 when rev is empty or malformed.
func Generation(rev string) int {
	n, _, err := ParseRevision(rev)
	if err != nil {
		return 0
	}
	return n
}

// NextRevision derives the revision written after prev for the given body.
// The digest covers the previous revision too, so identical bodies written
// on different branches still get distinct tokens.
func NextRevision(gen int, prev string, deleted bool, body []byte) string {
	h := md5.New()
	h.Write([]byte(prev))
	if deleted {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(body)
	return strconv.Itoa(gen) + "-" + hex.EncodeToString(h.Sum(nil))
}
