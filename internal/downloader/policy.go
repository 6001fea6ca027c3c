package downloader

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/FarhadManiCodes/inbox-attachments/internal/gmail"
	"github.com/FarhadManiCodes/inbox-attachments/internal/utils"
)

// Layout selects how attachments are arranged under the destination directory.
type Layout string

const (
	// LayoutFlat puts every file in one directory, prefixed with the message id to avoid collisions.
	LayoutFlat Layout = "flat"
	// LayoutMessage gives each message its own subfolder named after the message id.
	LayoutMessage Layout = "message"
	LayoutSender  Layout = "sender"
	LayoutType    Layout = "type"
)

func ParseLayout(s string) (Layout, error) {
	switch l := Layout(strings.ToLower(strings.TrimSpace(s))); l {
	case "":
		return LayoutFlat, nil
	case LayoutFlat, LayoutMessage, LayoutSender, LayoutType:
		return l, nil
	default:
		return "", fmt.Errorf("unknown layout %q (want flat|message|sender|type)", s)
	}
}

// Policy resolves where one attachment of one message is written.
type Policy struct {
	BaseDir string
	Layout  Layout
}

// Target is the resolved destination of an attachment.
type Target struct {
	Dir      string
	Filename string
}

func (t Target) Path() string { return filepath.Join(t.Dir, t.Filename) }

// Resolve is deterministic in (message id, part filename, layout).
func (p Policy) Resolve(d gmail.MessageDetail, part gmail.Part) Target {
	name := utils.SanitizeFilename(part.Filename)
	id := utils.SanitizeFilename(string(d.ID))
	prefixed := utils.SanitizeFilename(id + "_" + name)

	switch p.Layout {
	case LayoutMessage:
		return Target{Dir: filepath.Join(p.BaseDir, id), Filename: name}
	case LayoutSender:
		return Target{Dir: filepath.Join(p.BaseDir, utils.SenderDirectory(d.Header("From"))), Filename: prefixed}
	case LayoutType:
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
		if ext == "" {
			ext = "no_extension"
		}
		return Target{Dir: filepath.Join(p.BaseDir, ext), Filename: prefixed}
	default:
		return Target{Dir: p.BaseDir, Filename: prefixed}
	}
}

// OwnsDirectory reports whether each message gets a directory of its own,
// which is removed again when nothing was written into it.
func (p Policy) OwnsDirectory() bool {
	return p.Layout == LayoutMessage
}
