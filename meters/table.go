package meters

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

// RenderEpochTable writes a summary table of finished epochs to w.
func RenderEpochTable(w io.Writer, summaries []EpochSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{
		"Epoch", "Split", "Loss", "Verb@1", "Noun@1", "Action@1", "Action@5", "Duration",
	})
	for _, s := range summaries {
		loss := "-"
		if s.Split == "train" {
			loss = fmt.Sprintf("%.4f", s.Loss)
		}
		t.AppendRow(table.Row{
			s.Epoch,
			s.Split,
			loss,
			fmt.Sprintf("%.2f", s.VerbTop1),
			fmt.Sprintf("%.2f", s.NounTop1),
			fmt.Sprintf("%.2f", s.ActionTop1),
			fmt.Sprintf("%.2f", s.ActionTop5),
			s.Duration.Round(time.Second).String(),
		})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}
