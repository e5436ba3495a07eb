package model

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// normalizeTag folds user-supplied tags to their canonical spelling.
// NFKC collapses compatibility forms (full-width letters, ligatures) so that
// visually identical input resolves to the same tag.
func normalizeTag(s string) string {
	s = norm.NFKC.String(strings.TrimSpace(s))
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "-", "_")
}

// ParseOperationType resolves s to a known OperationType.
func ParseOperationType(s string) (OperationType, error) {
	tag := OperationType(normalizeTag(s))
	for _, known := range OperationTypes {
		if tag == known {
			return known, nil
		}
	}
	return "", Validationf("unknown operation type %q", s)
}

// ParseChannelKind resolves s to a known ChannelKind.
func ParseChannelKind(s string) (ChannelKind, error) {
	tag := ChannelKind(normalizeTag(s))
	for _, known := range ChannelKinds {
		if tag == known {
			return known, nil
		}
	}
	return "", Validationf("unknown channel %q", s)
}

// ParseStatus resolves s to a known Status.
func ParseStatus(s string) (Status, error) {
	st := Status(normalizeTag(s))
	if !st.Valid() {
		return "", Validationf("unknown status %q", s)
	}
	return st, nil
}
