// Package progress tracks run counters and renders them as a terminal progress bar.
package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

// Counters are owned by one run and only grow; every run starts from the zero value.
type Counters struct {
	ProcessedMessages        int
	MatchedMessages          int
	DownloadedAttachments    int
	TotalExpectedAttachments int
}

// Fraction is downloaded/expected clamped to [0,1]; an empty run counts as complete.
func (c Counters) Fraction() float64 {
	if c.TotalExpectedAttachments <= 0 {
		return 1
	}
	f := float64(c.DownloadedAttachments) / float64(c.TotalExpectedAttachments)
	if f > 1 {
		return 1
	}
	return f
}

// Reporter receives counter snapshots. Start is called once the denominator is known.
type Reporter interface {
	Start(total int)
	Update(c Counters)
	Done(c Counters)
}

// Bar redraws a single terminal line on every update.
type Bar struct {
	mu    sync.Mutex
	out   io.Writer
	bar   progress.Model
	label lipgloss.Style
}

func NewBar(out io.Writer) *Bar {
	return &Bar{
		out:   out,
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		label: lipgloss.NewStyle().Faint(true),
	}
}

func (b *Bar) Start(total int) {
	b.Update(Counters{TotalExpectedAttachments: total})
}

func (b *Bar) Update(c Counters) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fmt.Fprintf(b.out, "\r%s %s", b.bar.ViewAs(c.Fraction()), b.label.Render(status(c)))
}

func (b *Bar) Done(c Counters) {
	b.Update(c)
	b.mu.Lock()
	defer b.mu.Unlock()
	fmt.Fprintln(b.out)
}

func status(c Counters) string {
	return fmt.Sprintf("%d/%d attachments · %d messages", c.DownloadedAttachments, c.TotalExpectedAttachments, c.ProcessedMessages)
}

// Silent discards updates, for dry runs and tests.
type Silent struct{}

func (Silent) Start(int)       {}
func (Silent) Update(Counters) {}
func (Silent) Done(Counters)   {}

var (
	_ Reporter = (*Bar)(nil)
	_ Reporter = Silent{}
)
