// Package video renders short vertical videos from flower photos using
// ffmpeg: each image gets an equal time slice, consecutive slices are joined
// with crossfades, and text overlays show the species at the start and the
// flower meaning at the end.
package video

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/floraworks/florapost/internal/flower"
	"github.com/floraworks/florapost/internal/metrics"
)

const (
	// FrameWidth and FrameHeight give the 9:16 vertical frame used by the
	// short-video platforms.
	FrameWidth  = 1080
	FrameHeight = 1920

	// FrameRate is the output frame rate.
	FrameRate = 30

	// TargetDurationSeconds is the preferred total length. The actual length
	// is clamped to the [MinDurationSeconds, MaxDurationSeconds] band.
	TargetDurationSeconds = 15.0
	MinDurationSeconds    = 10.0
	MaxDurationSeconds    = 30.0

	// MinSliceSeconds is the shortest time a single image is shown. With many
	// images the total duration grows (up to the max) rather than flashing
	// images faster than this.
	MinSliceSeconds = 2.0

	// CrossfadeSeconds is the overlap between consecutive image slices.
	CrossfadeSeconds = 0.5

	// VideoCRF is the Constant Rate Factor for H.264 encoding (range 0-51).
	VideoCRF = 23
)

// CheckFFmpegAvailable checks if ffmpeg is available in the system PATH.
// This can be called at startup to validate video rendering capability.
func CheckFFmpegAvailable() error {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: video rendering will be unavailable")
	}
	log.Debug().Str("path", path).Msg("ffmpeg found")
	return nil
}

// ImageInput is one source photo for the composition, in slideshow order.
type ImageInput struct {
	Name string
	Data []byte
}

// Result describes a rendered video file on local disk. The caller is
// responsible for uploading it and must invoke the cleanup function returned
// by Compose afterwards.
type Result struct {
	Path            string
	DurationSeconds float64
	Format          string
	Width           int
	Height          int
}

// Composer renders slideshow videos with ffmpeg.
type Composer struct{}

// NewComposer returns a Composer.
func NewComposer() *Composer {
	return &Composer{}
}

// Compose renders the images into a vertical MP4. The species overlay is
// drawn during the first slice and the meaning overlay during the last.
// The cleanup function MUST be called to remove the temporary files.
func (c *Composer) Compose(ctx context.Context, images []ImageInput, profile flower.FlowerProfile) (Result, func(), error) {
	if len(images) == 0 {
		return Result{}, nil, &flower.RenderError{Reason: "no images to compose"}
	}

	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return Result{}, nil, &flower.RenderError{Reason: "ffmpeg not found in PATH", Err: err}
	}

	workDir, err := os.MkdirTemp("", "florapost-video-*")
	if err != nil {
		return Result{}, nil, &flower.RenderError{Reason: "create work dir", Err: err}
	}
	cleanup := func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn().Err(err).Str("dir", workDir).Msg("Failed to remove video work dir")
		}
	}

	imagePaths := make([]string, len(images))
	for i, img := range images {
		p := filepath.Join(workDir, fmt.Sprintf("frame-%02d%s", i, imageExt(img.Name)))
		if err := os.WriteFile(p, img.Data, 0o600); err != nil {
			cleanup()
			return Result{}, nil, &flower.RenderError{Reason: "write source image", Err: err}
		}
		imagePaths[i] = p
	}

	slice, total := sliceDuration(len(images))
	outputPath := filepath.Join(workDir, "output.mp4")
	args := buildComposeArgs(imagePaths, outputPath, profile, slice, total)

	log.Debug().Strs("args", args).Msg("Running ffmpeg composition")

	start := time.Now()
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	output, err := cmd.CombinedOutput()
	elapsed := time.Since(start)
	if err != nil {
		cleanup()
		log.Warn().
			Err(err).
			Str("ffmpeg_output", string(output)).
			Dur("duration", elapsed).
			Msg("ffmpeg composition failed")
		metrics.New().
			Metric("VideoRenderMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
			Count("VideoRenderErrors").
			Flush()
		if ctx.Err() != nil {
			return Result{}, nil, ctx.Err()
		}
		return Result{}, nil, &flower.RenderError{Reason: "ffmpeg composition failed", Err: err}
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		cleanup()
		return Result{}, nil, &flower.RenderError{Reason: "stat rendered file", Err: err}
	}

	metrics.New().
		Metric("VideoRenderMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Metric("VideoSizeBytes", float64(info.Size()), metrics.UnitBytes).
		Count("VideoRenders").
		Flush()

	log.Info().
		Int("images", len(images)).
		Float64("duration_seconds", total).
		Int64("size_bytes", info.Size()).
		Dur("render_time", elapsed).
		Msg("Video composition complete")

	return Result{
		Path:            outputPath,
		DurationSeconds: total,
		Format:          "mp4",
		Width:           FrameWidth,
		Height:          FrameHeight,
	}, cleanup, nil
}

// sliceDuration returns the per-image slice length and the total video
// length for n images. Crossfade overlap shortens the total: with slice d
// and fade f the total is n*d - (n-1)*f.
func sliceDuration(n int) (slice, total float64) {
	slice = TargetDurationSeconds / float64(n)
	if slice < MinSliceSeconds {
		slice = MinSliceSeconds
	}
	total = float64(n)*slice - float64(n-1)*CrossfadeSeconds
	if total > MaxDurationSeconds {
		total = MaxDurationSeconds
		slice = (total + float64(n-1)*CrossfadeSeconds) / float64(n)
	}
	if total < MinDurationSeconds {
		total = MinDurationSeconds
		slice = (total + float64(n-1)*CrossfadeSeconds) / float64(n)
	}
	return slice, total
}

// buildComposeArgs constructs the full ffmpeg argument list: one looped image
// input per slice, an xfade chain joining them, drawtext overlays, and H.264
// output settings suited to short-video platforms.
func buildComposeArgs(imagePaths []string, outputPath string, profile flower.FlowerProfile, slice, total float64) []string {
	var args []string
	for _, p := range imagePaths {
		args = append(args,
			"-loop", "1",
			"-t", fmt.Sprintf("%.3f", slice),
			"-framerate", fmt.Sprintf("%d", FrameRate),
			"-i", p,
		)
	}

	args = append(args, "-filter_complex", buildFilterGraph(len(imagePaths), profile, slice, total))
	args = append(args, "-map", "[out]")

	args = append(args,
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", fmt.Sprintf("%d", VideoCRF),
		"-pix_fmt", "yuv420p",
		"-r", fmt.Sprintf("%d", FrameRate),
		"-t", fmt.Sprintf("%.3f", total),
		"-movflags", "+faststart",
		"-an",
		"-y", outputPath,
	)
	return args
}

// buildFilterGraph builds the filter_complex string. Each input is scaled to
// fill the vertical frame and centre-cropped, then the streams are chained
// with xfade. The species caption is enabled during the first slice and the
// meaning caption during the last.
func buildFilterGraph(n int, profile flower.FlowerProfile, slice, total float64) string {
	var b strings.Builder

	for i := 0; i < n; i++ {
		fmt.Fprintf(&b,
			"[%d:v]scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,setsar=1,format=yuv420p[v%d];",
			i, FrameWidth, FrameHeight, FrameWidth, FrameHeight, i)
	}

	last := "[v0]"
	for i := 1; i < n; i++ {
		offset := float64(i)*slice - float64(i)*CrossfadeSeconds
		out := fmt.Sprintf("[x%d]", i)
		fmt.Fprintf(&b, "%s[v%d]xfade=transition=fade:duration=%.3f:offset=%.3f%s;",
			last, i, CrossfadeSeconds, offset, out)
		last = out
	}

	species := profile.Species
	meaning := ""
	if len(profile.Meanings) > 0 {
		meaning = profile.Meanings[0]
	}

	fmt.Fprintf(&b,
		"%sdrawtext=text='%s':fontsize=72:fontcolor=white:borderw=4:bordercolor=black:x=(w-text_w)/2:y=h-360:enable='between(t,0.5,%.3f)'",
		last, escapeDrawtext(species), slice)
	if meaning != "" {
		lastSliceStart := total - slice
		if lastSliceStart < 0 {
			lastSliceStart = 0
		}
		fmt.Fprintf(&b,
			",drawtext=text='%s':fontsize=56:fontcolor=white:borderw=4:bordercolor=black:x=(w-text_w)/2:y=h-360:enable='between(t,%.3f,%.3f)'",
			escapeDrawtext(meaning), lastSliceStart, total)
	}
	b.WriteString("[out]")

	return b.String()
}

// escapeDrawtext escapes characters that are special inside a drawtext text
// value wrapped in single quotes.
func escapeDrawtext(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`:`, `\:`,
		`%`, `\%`,
	)
	return r.Replace(s)
}

// imageExt picks a file extension ffmpeg can infer the demuxer from.
func imageExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp":
		return ext
	default:
		return ".jpg"
	}
}
