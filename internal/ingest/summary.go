package ingest

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"

	"csync/pkg/types"
)

// DefaultSummaryWidth is the display width text summaries are cut to.
const DefaultSummaryWidth = 80

// Summarize derives the human-readable summary shown in listings.
// Text is collapsed to one line and truncated by display width; images
// and files get a fixed caption carrying name and size.
func Summarize(ev types.Event, width int) string {
	if width <= 0 {
		width = DefaultSummaryWidth
	}

	switch ev.Type {
	case types.BlobText:
		return truncateText(string(ev.Payload), width)
	case types.BlobImage:
		return fmt.Sprintf("<PNG Image, %s>", humanize.IBytes(uint64(len(ev.Payload))))
	case types.BlobFile:
		return fmt.Sprintf("<File, %s, %s>", ev.FileName, humanize.IBytes(uint64(len(ev.Payload))))
	}
	return ""
}

// truncateText cuts text to the given number of terminal cells,
// counting wide (CJK) runes as two.
func truncateText(text string, width int) string {
	text = strings.ReplaceAll(text, "\n", " ")

	var b strings.Builder
	current := 0
	for _, r := range text {
		w := runewidth.RuneWidth(r)
		if w == 0 {
			w = 1
		}
		if current+w > width {
			break
		}
		b.WriteRune(r)
		current += w
	}

	result := b.String()
	if len(result) < len(text) {
		result += "..."
	}
	return result
}
