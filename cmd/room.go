package cmd

import (
	"fmt"
	"time"

	"github.com/Foodstream-io/livecall/internal/store"
	"github.com/Foodstream-io/livecall/internal/ui"
	"github.com/spf13/cobra"
)

var roomCmd = &cobra.Command{
	Use:   "room",
	Short: "Show the remembered room",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		saved, err := st.Load()
		if err != nil {
			return newError("read saved room", err)
		}
		if saved.Empty() {
			ui.PrintInfo("No saved room. Create one with: livecall create <name>")
			return nil
		}

		fmt.Printf("%s %s %s\n", ui.IconRoom, ui.BoldStyle.Render(saved.RoomName), ui.StatusStyle.Render(saved.RoomID))
		fmt.Printf("%s %s\n", ui.IconWeb, ui.MutedStyle.Render(saved.ServerURL))
		fmt.Printf("%s %s\n", ui.IconTime, ui.MutedStyle.Render("created "+saved.SavedAt.Format(time.RFC1123)))
		return nil
	},
}

var roomForgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Forget the remembered room",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		if err := st.Clear(); err != nil {
			return newError("forget room", err)
		}
		ui.PrintSuccess("Saved room forgotten")
		return nil
	},
}

func openStore(cmd *cobra.Command) (*store.Store, error) {
	cfg, err := loadConfig(cmd, mediaFlags{})
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.StatePath), nil
}

func init() {
	rootCmd.AddCommand(roomCmd)
	roomCmd.AddCommand(roomForgetCmd)
}
