package export

import (
	"fmt"
	"strings"

	ctxpkg "github.com/memvra/companion/internal/context"
	"github.com/memvra/companion/internal/memory"
)

// MarkdownExporter renders a user's record as readable markdown.
type MarkdownExporter struct{}

func (e *MarkdownExporter) Export(data ExportData) (string, error) {
	f := ctxpkg.NewFormatter()
	name := data.UserID
	if data.Profile.FirstName != "" {
		name = data.Profile.FirstName
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", name)
	if !data.ExportedAt.IsZero() {
		fmt.Fprintf(&b, "_Exported %s_\n\n", data.ExportedAt.Format("2006-01-02 15:04"))
	}

	b.WriteString(f.FormatProfile(data.Profile))
	b.WriteString(f.FormatActivities(data.Timeline))

	mems := memory.ByImportance(data.Memories)
	fmt.Fprintf(&b, "## Memories (%d)\n\n", len(mems))
	if len(mems) == 0 {
		b.WriteString("Nothing remembered yet.\n")
	}
	for _, label := range contexts(mems) {
		b.WriteString(memorySection(label, mems, data.ExportedAt))
	}

	return b.String(), nil
}
