package cmd

import (
	"log/slog"

	"github.com/Foodstream-io/livecall/internal/config"
	"github.com/Foodstream-io/livecall/internal/media"
	"github.com/Foodstream-io/livecall/internal/utils"
	pion "github.com/pion/webrtc/v4"
)

// newMediaSource picks the capture device or the configured media files.
// The returned codec hook is nil when the default codecs fit.
func newMediaSource(cfg *config.Config, device bool, logger *slog.Logger) (media.Source, func(*pion.MediaEngine) error, error) {
	if device {
		return deviceSource(logger)
	}

	video, audio, err := media.ValidateFiles(cfg.VideoFile, cfg.AudioFile)
	if err != nil {
		return nil, nil, err
	}
	for _, f := range []*media.FileInfo{video, audio} {
		if f != nil {
			slog.Info("streaming file", "name", f.Name, "container", f.Container, "size", utils.FormatSize(f.Size))
		}
	}

	return &media.FileSource{
		VideoFile: cfg.VideoFile,
		AudioFile: cfg.AudioFile,
		Logger:    logger,
	}, nil, nil
}
