package transcode

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
)

// FFmpegRunner runs conversions by shelling out to an ffmpeg binary.
type FFmpegRunner struct {
	ffmpegPath string
	logger     *slog.Logger
}

// NewFFmpegRunner creates a runner for the given ffmpeg binary path
// (usually just "ffmpeg" resolved on PATH).
func NewFFmpegRunner(ffmpegPath string, logger *slog.Logger) *FFmpegRunner {
	return &FFmpegRunner{ffmpegPath: ffmpegPath, logger: logger}
}

// Probe checks that the ffmpeg binary exists and runs.
func (r *FFmpegRunner) Probe(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, r.ffmpegPath, "-version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("probing %s: %w", r.ffmpegPath, err)
	}

	return nil
}

// Convert transcodes the first audio stream of inPath into an ALAC .m4a at
// outPath. Cancellation or timeout on ctx kills the subprocess.
func (r *FFmpegRunner) Convert(ctx context.Context, inPath, outPath string, threads int) error {
	args := []string{
		"-y",
		"-i", inPath,
		"-map", "0:a:0",
		"-c:a", "alac",
		"-threads", strconv.Itoa(threads),
		outPath,
	}

	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	r.logger.Debug("running ffmpeg", slog.String("in", inPath), slog.String("out", outPath))

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, stderr.String())
	}

	return nil
}
