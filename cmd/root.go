package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Foodstream-io/livecall/internal/config"
	"github.com/Foodstream-io/livecall/internal/ui"
	"github.com/Foodstream-io/livecall/internal/version"
	"github.com/spf13/cobra"
)

var (
	flagConfig           string
	flagServer           string
	flagAPIPrefix        string
	flagToken            string
	flagTokenFile        string
	flagSTUN             string
	flagTURN             string
	flagTURNUser         string
	flagTURNPass         string
	flagRelay            bool
	flagPollInterval     time.Duration
	flagTimeout          time.Duration
	flagICEFeed          bool
	flagNotifyDisconnect bool
	flagStatePath        string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "livecall",
	Short: "Join Foodstream live cooking rooms from the terminal over WebRTC",
	Long: `livecall creates and joins Foodstream live rooms. It negotiates a WebRTC call with the
room's signaling server, trickles ICE candidates over HTTP (and optionally a WebSocket feed),
streams local media and plays or records the remote streams.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

// loadConfig merges the persistent flags over env, file and defaults.
func loadConfig(cmd *cobra.Command, media mediaFlags) (*config.Config, error) {
	opts := config.Options{
		ConfigPath:       flagConfig,
		ServerURL:        flagServer,
		Token:            flagToken,
		TokenFile:        flagTokenFile,
		STUNServer:       flagSTUN,
		TURNServer:       flagTURN,
		TURNUser:         flagTURNUser,
		TURNPass:         flagTURNPass,
		ForceRelay:       flagRelay,
		PollInterval:     flagPollInterval,
		RequestTimeout:   flagTimeout,
		ICEFeed:          flagICEFeed,
		NotifyDisconnect: flagNotifyDisconnect,
		StatePath:        flagStatePath,
		RecordDir:        media.recordDir,
		VideoFile:        media.videoFile,
		AudioFile:        media.audioFile,
	}
	// An empty prefix is meaningful, so only pass it when given.
	if cmd.Flags().Changed("api-prefix") {
		opts.APIPrefix = &flagAPIPrefix
	}

	cfg, err := config.Load(opts)
	if err != nil {
		return nil, newError("load config", err)
	}
	return cfg, nil
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagConfig, "config", "c", "", "Config file (default "+config.DefaultConfigPath()+")")
	pf.StringVar(&flagServer, "server", "", "Signaling server URL")
	pf.StringVar(&flagAPIPrefix, "api-prefix", "", `Path prefix of the room endpoints ("" or "/api")`)
	pf.StringVar(&flagToken, "token", "", "Bearer token for the signaling server")
	pf.StringVar(&flagTokenFile, "token-file", "", "File holding the bearer token, re-read on every request")
	pf.StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	pf.StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	pf.StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	pf.StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	pf.BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
	pf.DurationVar(&flagPollInterval, "poll-interval", 0, "ICE candidate poll interval (default 2s)")
	pf.DurationVar(&flagTimeout, "timeout", 0, "Signaling request timeout (default 10s)")
	pf.BoolVar(&flagICEFeed, "ice-feed", false, "Also exchange candidates over the server's WebSocket feed")
	pf.BoolVar(&flagNotifyDisconnect, "notify-disconnect", false, "Tell the server when leaving a room")
	pf.StringVar(&flagStatePath, "state", "", "File remembering the last created room")
}
