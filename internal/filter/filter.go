// Package filter holds side-effect free predicates over fetched messages.
package filter

import (
	"strings"

	"github.com/FarhadManiCodes/inbox-attachments/internal/gmail"
)

// Kind is a set of filename extensions, e.g. {".json"} or {".xls", ".xlsx"}.
type Kind []string

// NewKind normalises extensions to lower case with a leading dot.
func NewKind(exts ...string) Kind {
	k := make(Kind, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		k = append(k, e)
	}
	return k
}

// Matches is a case-insensitive suffix match on filename.
func (k Kind) Matches(filename string) bool {
	name := strings.ToLower(filename)
	for _, ext := range k {
		if strings.HasSuffix(name, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

func HasAttachments(d gmail.MessageDetail) bool {
	for _, p := range d.Parts {
		if p.IsAttachment() {
			return true
		}
	}
	return false
}

func HasAttachmentOfKind(d gmail.MessageDetail, kind Kind) bool {
	for _, p := range d.Parts {
		if p.IsAttachment() && kind.Matches(p.Filename) {
			return true
		}
	}
	return false
}

func HasAnyOf(d gmail.MessageDetail, kinds ...Kind) bool {
	for _, k := range kinds {
		if HasAttachmentOfKind(d, k) {
			return true
		}
	}
	return false
}

// QualifyingParts returns the attachments matching any of kinds, in message order.
// With no kinds every attachment qualifies.
func QualifyingParts(d gmail.MessageDetail, kinds ...Kind) []gmail.Part {
	var out []gmail.Part
	for _, p := range d.Parts {
		if !p.IsAttachment() {
			continue
		}
		if len(kinds) == 0 || matchesAny(p.Filename, kinds) {
			out = append(out, p)
		}
	}
	return out
}

func matchesAny(filename string, kinds []Kind) bool {
	for _, k := range kinds {
		if k.Matches(filename) {
			return true
		}
	}
	return false
}
