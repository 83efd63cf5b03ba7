package ui

import (
	"fmt"
	"strings"

	"github.com/Foodstream-io/livecall/internal/utils"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// StreamRow is one remote stream as the tables show it.
type StreamRow struct {
	StreamID string
	Kinds    []string
	Packets  uint64
	Bytes    uint64
	Output   string
}

func styledTable(headers []string, rows [][]string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})
}

// StreamTableView renders the remote streams of a call.
func StreamTableView(streams []StreamRow) string {
	if len(streams) == 0 {
		return MutedStyle.Render("No remote streams yet")
	}

	rows := make([][]string, 0, len(streams))
	for i, s := range streams {
		output := s.Output
		if output == "" {
			output = "-"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			utils.TruncateString(s.StreamID, 24),
			kindIcons(s.Kinds),
			fmt.Sprintf("%d", s.Packets),
			utils.FormatSize(int64(s.Bytes)),
			utils.TruncateString(output, 40),
		})
	}

	return styledTable([]string{"#", "Stream", "Media", "Packets", "Received", "Output"}, rows).Render()
}

func kindIcons(kinds []string) string {
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		switch k {
		case "video":
			parts = append(parts, IconVideo+" video")
		case "audio":
			parts = append(parts, IconAudio+" audio")
		default:
			parts = append(parts, k)
		}
	}
	return strings.Join(parts, ", ")
}

type RoomInfo struct {
	RoomID   string
	RoomName string
	Server   string
}

func NewRoomInfo(roomID, roomName, server string) *RoomInfo {
	return &RoomInfo{
		RoomID:   roomID,
		RoomName: roomName,
		Server:   server,
	}
}

func (r *RoomInfo) View() string {
	content := fmt.Sprintf("%s Room Created!\n\n%s Room:     %s\n%s Room ID:  %s\n%s Server:   %s\n\n%s",
		IconSuccess,
		IconRoom, BoldStyle.Render(r.RoomName),
		IconCopy, BoldStyle.Foreground(Primary).Render(r.RoomID),
		IconWeb, MutedStyle.Render(r.Server),
		MutedStyle.Render("Join with: livecall join "+r.RoomID),
	)

	return SuccessBoxStyle.Render(content)
}

func RenderRoomInfo(roomID, roomName, server string) {
	fmt.Println(NewRoomInfo(roomID, roomName, server).View())
}
