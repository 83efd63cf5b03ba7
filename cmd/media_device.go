//go:build mediadevices

package cmd

import (
	"log/slog"

	"github.com/Foodstream-io/livecall/internal/media"
	pion "github.com/pion/webrtc/v4"
)

const deviceSupport = true

func deviceSource(logger *slog.Logger) (media.Source, func(*pion.MediaEngine) error, error) {
	src := media.NewDeviceSource(logger)
	return src, src.RegisterCodecs, nil
}
