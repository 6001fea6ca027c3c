package gmail

import (
	"fmt"
	"strings"
	"time"
)

type MessageID string

// MessageRef is the lightweight handle returned by listing.
type MessageRef struct {
	ID MessageID
}

type Header struct {
	Name  string
	Value string
}

// Part is one node of a message's MIME tree, flattened in document order.
// A part with both Filename and AttachmentID is a downloadable attachment.
type Part struct {
	PartID       string
	Filename     string
	MimeType     string
	AttachmentID string
	Size         int64
}

// IsAttachment reports whether the part can be fetched as an attachment.
func (p Part) IsAttachment() bool {
	return p.Filename != "" && p.AttachmentID != ""
}

// MessageDetail is the full-format view of a message.
type MessageDetail struct {
	ID       MessageID
	ThreadID string
	Headers  []Header
	Snippet  string
	Parts    []Part
}

// Header returns the first header value matching name case-insensitively.
func (d MessageDetail) Header(name string) string {
	for _, h := range d.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// AttachmentPayload is the attachment body exactly as the API returns it (base64url text).
type AttachmentPayload struct {
	Data string
	Size int64
}

type Query struct {
	Raw string // Gmail search syntax, e.g. `has:attachment after:1743465600 before:1746057600`
}

type ListPage struct {
	Refs          []MessageRef
	NextPageToken string
}

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// MonthWindow covers the whole calendar month in loc.
func MonthWindow(year int, month time.Month, loc *time.Location) Window {
	if loc == nil {
		loc = time.Local
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return Window{Start: start, End: start.AddDate(0, 1, 0)}
}

// ParseMonth parses YYYY-MM into a month window.
func ParseMonth(value string, loc *time.Location) (Window, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation("2006-01", value, loc)
	if err != nil {
		return Window{}, fmt.Errorf("invalid month %q (want YYYY-MM): %w", value, err)
	}
	return MonthWindow(t.Year(), t.Month(), loc), nil
}

// ParseRange parses two YYYY-MM-DD dates; to is inclusive, so the window ends at the following midnight.
func ParseRange(from, to string, loc *time.Location) (Window, error) {
	if loc == nil {
		loc = time.Local
	}
	start, err := time.ParseInLocation("2006-01-02", from, loc)
	if err != nil {
		return Window{}, fmt.Errorf("invalid start date %q: %w", from, err)
	}
	last, err := time.ParseInLocation("2006-01-02", to, loc)
	if err != nil {
		return Window{}, fmt.Errorf("invalid end date %q: %w", to, err)
	}
	w := Window{Start: start, End: last.AddDate(0, 0, 1)}
	return w, w.Validate()
}

func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("window bounds must be set")
	}
	if !w.End.After(w.Start) {
		return fmt.Errorf("window end %s is not after start %s", w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	return nil
}

// Label names the window for directory use: 2025-04 for a calendar month, 20250401-20250415 otherwise.
func (w Window) Label() string {
	if w.Start.Day() == 1 && w.Start.Hour() == 0 && w.Start.Minute() == 0 && w.Start.Second() == 0 &&
		w.End.Equal(w.Start.AddDate(0, 1, 0)) {
		return w.Start.Format("2006-01")
	}
	return w.Start.Format("20060102") + "-" + w.End.AddDate(0, 0, -1).Format("20060102")
}
