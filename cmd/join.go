package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/Foodstream-io/livecall/internal/call"
	"github.com/Foodstream-io/livecall/internal/session"
	"github.com/Foodstream-io/livecall/internal/ui"
	"github.com/spf13/cobra"
)

var (
	joinMedia mediaFlags
	flagNoUI  bool
)

var joinCmd = &cobra.Command{
	Use:     "join [room-id|url]",
	Aliases: []string{"j"},
	Short:   "Join a live room",
	Long: `Join a live room and stay in the call until you press q or Ctrl+C.

Without an argument the room from the last "livecall create" is joined.

Examples:
  livecall join 6650f1c2a9
  livecall join https://foodstream.io/live/r/6650f1c2a9
  livecall join --video kitchen.ivf --audio kitchen.ogg --record ./recordings`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := ""
		if len(args) == 1 {
			input = args[0]
		}
		return joinRoom(cmd, input, joinMedia)
	},
}

func joinRoom(cmd *cobra.Command, input string, mf mediaFlags) error {
	cfg, err := loadConfig(cmd, mf)
	if err != nil {
		return err
	}

	failed := make(chan error, 1)
	app, err := NewApp(cfg, mf, appHooks{
		onState: func(roomID string, state call.State) {
			slog.Debug("call state", "room_id", roomID, "state", state)
			if flagNoUI {
				ui.PrintInfof("Call %s", state)
			}
		},
		onFailure: func(roomID string, err error) {
			select {
			case failed <- err:
			default:
			}
		},
	})
	if err != nil {
		return err
	}

	roomID, err := resolveRoom(app, input)
	if err != nil {
		return err
	}

	return runCall(cmd.Context(), app, roomID, failed)
}

// resolveRoom turns the argument into a room id, falling back to the room
// saved by the last create.
func resolveRoom(app *App, input string) (string, error) {
	if input != "" {
		return parseRoomInput(input)
	}

	saved, err := app.Manager.SavedRoom()
	if err != nil {
		return "", newError("read saved room", err)
	}
	if saved.Empty() {
		return "", errors.New(`no room given and none saved; run "livecall create <name>" first`)
	}
	if saved.ServerURL != "" && saved.ServerURL != app.Config.ServerURL {
		ui.PrintWarningf("Saved room %s was created on %s, not %s", saved.RoomID, saved.ServerURL, app.Config.ServerURL)
	}
	ui.PrintInfof("Using saved room %s (%s)", saved.RoomID, saved.RoomName)
	return saved.RoomID, nil
}

// runCall joins roomID and blocks until the user leaves, ctx ends or the
// call fails.
func runCall(ctx context.Context, app *App, roomID string, failed <-chan error) error {
	fmt.Println()
	stopSpinner := ui.RunConnectionSpinner(fmt.Sprintf("Joining room %s...", roomID))
	started := time.Now()
	err := app.Manager.JoinRoom(ctx, roomID)
	stopSpinner()
	if err != nil {
		return newError("join room", err)
	}
	ui.PrintSuccessf("Joined room %s", roomID)

	last := app.Manager.Status()
	snapshot := func() ui.CallStatus {
		if st := app.Manager.Status(); st.RoomID != "" {
			last = st
		}
		return toCallStatus(last)
	}

	var quit <-chan struct{}
	var callUI *ui.CallUI
	if !flagNoUI {
		callUI = ui.NewCallUI(snapshot)
		callUI.Start()
		quit = callUI.Quit()
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var callErr error
	outcome := "left"
wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case <-quit:
			break wait
		case callErr = <-failed:
			outcome = "failed"
			break wait
		case <-ticker.C:
			if callUI == nil {
				snapshot()
			}
		}
	}

	if callUI != nil {
		callUI.Stop()
	} else {
		snapshot()
	}

	leaveCtx, cancel := context.WithTimeout(context.Background(), app.Config.RequestTimeout)
	defer cancel()
	if err := app.Manager.LeaveRoom(leaveCtx); err != nil {
		ui.PrintWarningf("Leaving room: %v", err)
	}

	fmt.Println()
	ui.RenderCallSummary("📊 Call Summary", callSummary(last, outcome, time.Since(started)))

	if callErr != nil {
		return newError("call", callErr)
	}
	return nil
}

func toCallStatus(st session.Status) ui.CallStatus {
	return ui.CallStatus{
		RoomID:     st.RoomID,
		State:      string(st.State),
		Connection: st.Connection,
		Streams:    streamRows(st),
		Forwarded:  st.Relay.Forwarded,
		Received:   st.Relay.Received,
		Applied:    st.Relay.Applied,
	}
}

func streamRows(st session.Status) []ui.StreamRow {
	rows := make([]ui.StreamRow, 0, len(st.Streams))
	for _, s := range st.Streams {
		rows = append(rows, ui.StreamRow{
			StreamID: s.StreamID,
			Kinds:    s.Kinds,
			Packets:  s.Packets,
			Bytes:    s.Bytes,
			Output:   s.Output,
		})
	}
	return rows
}

func callSummary(st session.Status, outcome string, d time.Duration) ui.CallSummary {
	return ui.CallSummary{
		RoomID:    st.RoomID,
		Status:    outcome,
		Duration:  d,
		Streams:   streamRows(st),
		Forwarded: st.Relay.Forwarded,
		Received:  st.Relay.Received,
		Applied:   st.Relay.Applied,
		Dropped:   st.Relay.ApplyFailures,
	}
}

func parseRoomInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("room ID cannot be empty")
	}

	if strings.Contains(input, "://") || strings.Contains(input, "/") {
		roomID, err := extractRoomIDFromURL(input)
		if err != nil {
			return "", err
		}
		ui.PrintSuccessf("Extracted room ID: %s", roomID)
		return roomID, nil
	}

	return input, nil
}

// extractRoomIDFromURL accepts .../r/<id>, .../room/<id> and ?roomId=<id>.
func extractRoomIDFromURL(urlStr string) (string, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", newError("parse URL", err)
	}

	if id := parsedURL.Query().Get("roomId"); id != "" {
		return id, nil
	}

	path := strings.TrimSuffix(parsedURL.Path, "/")
	parts := strings.Split(path, "/")

	for i, part := range parts {
		if (part == "r" || part == "room") && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}

	return "", fmt.Errorf("could not extract room ID from URL: %s", urlStr)
}

func addMediaFlags(cmd *cobra.Command, mf *mediaFlags) {
	cmd.Flags().StringVar(&mf.videoFile, "video", "", "VP8 IVF file to stream as the camera")
	cmd.Flags().StringVar(&mf.audioFile, "audio", "", "Opus Ogg file to stream as the microphone")
	cmd.Flags().StringVar(&mf.recordDir, "record", "", "Record remote streams into this directory")
	cmd.Flags().BoolVar(&mf.noVideo, "no-video", false, "Do not send video")
	cmd.Flags().BoolVar(&mf.noAudio, "no-audio", false, "Do not send audio")
	if deviceSupport {
		cmd.Flags().BoolVar(&mf.device, "device", false, "Capture from the camera and microphone")
	}
}

func init() {
	rootCmd.AddCommand(joinCmd)

	addMediaFlags(joinCmd, &joinMedia)
	joinCmd.Flags().BoolVar(&flagNoUI, "no-ui", false, "Print state changes instead of the live view")
}
