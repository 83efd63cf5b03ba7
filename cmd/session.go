package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/Foodstream-io/livecall/internal/auth"
	"github.com/Foodstream-io/livecall/internal/call"
	"github.com/Foodstream-io/livecall/internal/config"
	"github.com/Foodstream-io/livecall/internal/media"
	"github.com/Foodstream-io/livecall/internal/session"
	"github.com/Foodstream-io/livecall/internal/signaling"
	"github.com/Foodstream-io/livecall/internal/store"
	"github.com/Foodstream-io/livecall/internal/ui"
	pion "github.com/pion/webrtc/v4"
)

// mediaFlags are the per-command media options.
type mediaFlags struct {
	videoFile string
	audioFile string
	recordDir string
	noVideo   bool
	noAudio   bool
	device    bool
}

// App is everything a command needs to talk to one server.
type App struct {
	Config  *config.Config
	Client  *signaling.Client
	Store   *store.Store
	Manager *session.Manager
}

type appHooks struct {
	onState   func(roomID string, state call.State)
	onFailure func(roomID string, err error)
}

func NewApp(cfg *config.Config, mf mediaFlags, hooks appHooks) (*App, error) {
	logger := slog.Default()

	tokens := auth.FromConfig(cfg.Token, cfg.TokenFile)
	describeToken(cfg)

	client, err := signaling.NewClient(signaling.Options{
		BaseURL:   cfg.ServerURL,
		APIPrefix: cfg.APIPrefix,
		Tokens:    tokens,
		Timeout:   cfg.RequestTimeout,
	})
	if err != nil {
		return nil, newError("configure signaling", err)
	}

	source, registerCodecs, err := newMediaSource(cfg, mf.device, logger)
	if err != nil {
		return nil, newError("prepare media", err)
	}

	iceServers, policy := call.ICEOptions(cfg)
	if policy == pion.ICETransportPolicyRelay {
		ui.PrintWarning("Relay-only mode: media goes through the TURN server")
	}
	factory, err := call.NewPionFactory(call.PionOptions{
		ICEServers:     iceServers,
		Policy:         policy,
		RegisterCodecs: registerCodecs,
		Logger:         logger,
	})
	if err != nil {
		return nil, newError("set up WebRTC", err)
	}

	var sinks media.SinkFactory = media.DiscardSinks{Logger: logger}
	if cfg.RecordDir != "" {
		sinks = media.RecordSinks{Dir: cfg.RecordDir, Logger: logger}
	}

	st := store.Open(cfg.StatePath)

	var dialFeed session.FeedDialer
	if cfg.ICEFeed {
		dialFeed = func(ctx context.Context, roomID string) (session.Feed, error) {
			feedURL, err := signaling.FeedURL(cfg.ServerURL)
			if err != nil {
				return nil, err
			}
			feed, err := signaling.DialFeed(ctx, feedURL, roomID, tokens)
			if err != nil {
				return nil, err
			}
			return feed, nil
		}
	}

	manager := session.New(session.Config{
		Signaling:        client,
		Factory:          factory,
		Source:           source,
		Constraints:      media.Constraints{Audio: !mf.noAudio, Video: !mf.noVideo},
		Sinks:            sinks,
		Store:            st,
		ServerURL:        cfg.ServerURL,
		PollInterval:     cfg.PollInterval,
		NotifyDisconnect: cfg.NotifyDisconnect,
		DialFeed:         dialFeed,
		OnStateChange:    hooks.onState,
		OnFailure:        hooks.onFailure,
		Logger:           logger,
	})

	return &App{
		Config:  cfg,
		Client:  client,
		Store:   st,
		Manager: manager,
	}, nil
}

// describeToken logs who the token belongs to and warns ahead of expiry.
func describeToken(cfg *config.Config) {
	if cfg.Token == "" {
		return
	}
	claims, err := auth.Inspect(cfg.Token)
	if err != nil {
		slog.Debug("token is not a JWT, sending it as is")
		return
	}
	slog.Debug("using token", "user_id", claims.UserID, "role", claims.Role, "expires_at", claims.ExpiresAt)
	if !claims.ExpiresAt.IsZero() && time.Until(claims.ExpiresAt) < 10*time.Minute {
		ui.PrintWarningf("Token expires at %s", claims.ExpiresAt.Format(time.Kitchen))
	}
}
