package ui

import (
	"fmt"
	"time"

	"github.com/Foodstream-io/livecall/internal/utils"
	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// CallSummary is printed after leaving a room.
type CallSummary struct {
	RoomID    string
	Status    string
	Duration  time.Duration
	Streams   []StreamRow
	Forwarded uint64
	Received  uint64
	Applied   uint64
	Dropped   uint64
}

func CallSummaryView(title string, s CallSummary) string {
	t := prettytable.NewWriter()
	t.SetTitle(title)
	t.SetStyle(prettytable.StyleRounded)
	t.Style().Title.Align = text.AlignCenter
	t.Style().Color.Header = text.Colors{text.Bold}
	t.Style().Format.Footer = text.FormatDefault

	var bytes uint64
	for _, st := range s.Streams {
		bytes += st.Bytes
	}

	t.AppendHeader(prettytable.Row{"Metric", "Value"})
	t.AppendRows([]prettytable.Row{
		{"Room", s.RoomID},
		{"Status", s.Status},
		{"Duration", utils.FormatTimeDuration(s.Duration)},
	})
	t.AppendSeparator()
	t.AppendRows([]prettytable.Row{
		{"Remote streams", len(s.Streams)},
		{"Media received", utils.FormatSize(int64(bytes))},
		{"Avg bitrate", utils.FormatBitrate(bytes, s.Duration)},
	})
	t.AppendSeparator()
	t.AppendRows([]prettytable.Row{
		{"Candidates sent", s.Forwarded},
		{"Candidates received", s.Received},
		{"Candidates applied", fmt.Sprintf("%d (%d dropped)", s.Applied, s.Dropped)},
	})

	for _, st := range s.Streams {
		if st.Output != "" {
			t.AppendFooter(prettytable.Row{IconRecord + " Recorded", st.Output})
		}
	}

	return t.Render()
}

func RenderCallSummary(title string, s CallSummary) {
	fmt.Println(CallSummaryView(title, s))
}
