package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Foodstream-io/livecall/internal/call"
	"github.com/Foodstream-io/livecall/internal/ui"
	"github.com/spf13/cobra"
)

var (
	createMedia    mediaFlags
	flagCreateJoin bool
)

var createCmd = &cobra.Command{
	Use:     "create <name>",
	Aliases: []string{"c"},
	Short:   "Create a live room",
	Long: `Create a live room on the signaling server. The room id is remembered so a later
"livecall join" without arguments joins it.

Examples:
  livecall create "Sunday Ramen"
  livecall create "Sunday Ramen" --join --video ramen.ivf --audio ramen.ogg`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return createRoom(cmd, strings.Join(args, " "))
	},
}

func createRoom(cmd *cobra.Command, name string) error {
	cfg, err := loadConfig(cmd, createMedia)
	if err != nil {
		return err
	}

	failed := make(chan error, 1)
	app, err := NewApp(cfg, createMedia, appHooks{
		onState: func(roomID string, state call.State) {
			slog.Debug("call state", "room_id", roomID, "state", state)
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

	fmt.Println()
	stopSpinner := ui.RunSpinner("Creating room...")
	roomID, err := app.Manager.CreateRoom(cmd.Context(), name)
	stopSpinner()
	if err != nil {
		return newError("create room", err)
	}

	ui.RenderRoomInfo(roomID, strings.TrimSpace(name), cfg.ServerURL)

	if !flagCreateJoin {
		return nil
	}
	return runCall(cmd.Context(), app, roomID, failed)
}

func init() {
	rootCmd.AddCommand(createCmd)

	addMediaFlags(createCmd, &createMedia)
	createCmd.Flags().BoolVarP(&flagCreateJoin, "join", "j", false, "Join the room right away")
	createCmd.Flags().BoolVar(&flagNoUI, "no-ui", false, "Print state changes instead of the live view")
}
