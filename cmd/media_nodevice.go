//go:build !mediadevices

package cmd

import (
	"errors"
	"log/slog"

	"github.com/Foodstream-io/livecall/internal/media"
	pion "github.com/pion/webrtc/v4"
)

const deviceSupport = false

func deviceSource(*slog.Logger) (media.Source, func(*pion.MediaEngine) error, error) {
	return nil, nil, errors.New("this build has no camera support; rebuild with -tags mediadevices")
}
