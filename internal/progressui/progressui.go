// Package progressui renders download progress to the terminal using
// github.com/schollz/progressbar/v3, sized to the detected terminal width
// via golang.org/x/term.
package progressui

import (
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

const fallbackWidth = 40

// Bar tracks piece-completion progress for one transfer.
type Bar struct {
	bar *progressbar.ProgressBar
}

// New creates a bar for a transfer of totalPieces pieces, labeled name.
// Output goes to stderr, the same stream logx writes to, and the bar width
// follows the terminal's reported size when stderr is a terminal, falling
// back to a fixed width otherwise.
func New(name string, totalPieces int64) *Bar {
	width := fallbackWidth
	if w, _, err := term.GetSize(int(os.Stderr.Fd())); err == nil && w > 20 {
		width = w - 20
	}

	bar := progressbar.NewOptions64(totalPieces,
		progressbar.OptionSetDescription(name),
		progressbar.OptionSetWidth(width),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
	)

	return &Bar{bar: bar}
}

// Add advances the bar by delta completed pieces.
func (b *Bar) Add(delta int) {
	b.bar.Add(delta)
}

// Describe changes the bar's label, used to show the current peer count
// alongside piece progress.
func (b *Bar) Describe(description string) {
	b.bar.Describe(description)
}

// Finish marks the bar as complete, flushing its final render.
func (b *Bar) Finish() {
	b.bar.Finish()
}
