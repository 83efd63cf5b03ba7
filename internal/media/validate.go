package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileInfo describes a local media file used as a capture source.
type FileInfo struct {
	// Path is the absolute path to the file
	Path string

	// Name is the filename (without directory)
	Name string

	// Size is the file size in bytes
	Size int64

	// Container is "ivf" or "ogg"
	Container string
}

// ValidateFiles checks the configured video and audio files. Empty paths
// are skipped. All problems are reported together.
func ValidateFiles(videoPath, audioPath string) (video, audio *FileInfo, err error) {
	var problems []string

	if videoPath != "" {
		info, err := validateFile(videoPath, ".ivf")
		if err != nil {
			problems = append(problems, err.Error())
		} else {
			video = &info
		}
	}

	if audioPath != "" {
		info, err := validateFile(audioPath, ".ogg", ".opus")
		if err != nil {
			problems = append(problems, err.Error())
		} else {
			audio = &info
		}
	}

	if len(problems) > 0 {
		return nil, nil, fmt.Errorf("media file validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return video, audio, nil
}

func validateFile(path string, exts ...string) (FileInfo, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: failed to get absolute path: %w", path, err)
	}

	ext := strings.ToLower(filepath.Ext(absPath))
	known := false
	for _, e := range exts {
		if ext == e {
			known = true
			break
		}
	}
	if !known {
		return FileInfo{}, fmt.Errorf("%s: unsupported extension %q (want %s)", path, ext, strings.Join(exts, ", "))
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, fmt.Errorf("%s: file does not exist", path)
		}
		return FileInfo{}, fmt.Errorf("%s: failed to stat file: %w", path, err)
	}
	if stat.IsDir() {
		return FileInfo{}, fmt.Errorf("%s: is a directory", path)
	}
	if stat.Size() == 0 {
		return FileInfo{}, fmt.Errorf("%s: file is empty", path)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: cannot open file (check permissions): %w", path, err)
	}
	file.Close()

	container := "ogg"
	if ext == ".ivf" {
		container = "ivf"
	}

	return FileInfo{
		Path:      absPath,
		Name:      filepath.Base(absPath),
		Size:      stat.Size(),
		Container: container,
	}, nil
}
