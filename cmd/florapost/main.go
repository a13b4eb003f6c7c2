// florapost is the local-mode CLI: it runs the full photo-to-post pipeline
// on your machine against an in-memory run store and a filesystem media
// store, with dry-run publishers standing in for the real platforms. Useful
// for previewing the generated blog post, captions, and slideshow video
// before anything touches production credentials.
package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/floraworks/florapost/internal/analyze"
)

// CLI flags
var (
	platformsFlag []string
	titleFlag     string
	descFlag      string
	workdirFlag   string
	modelFlag     string
)

var rootCmd = &cobra.Command{
	Use:   "florapost",
	Short: "Turn flower photos into multi-platform posts",
	Long: `Florapost analyzes flower photographs with a vision model, generates
platform-tailored content, renders a short slideshow video, and previews the
publish fan-out locally with dry-run publishers.

Requires GEMINI_API_KEY in the environment and ffmpeg on PATH for video
rendering (runs without ffmpeg, skipping the video platform).

Examples:
  florapost run rose1.jpg rose2.jpg
  florapost run --platforms blog,social-image tulips/*.jpg
  florapost run --title "Garden update" --workdir ./out peony.png`,
}

var runCmd = &cobra.Command{
	Use:   "run [image files]",
	Short: "Run the pipeline on the given photos",
	Args:  cobra.MinimumNArgs(1),
	Run:   runPipeline,
}

func init() {
	runCmd.Flags().StringSliceVar(&platformsFlag, "platforms", []string{"blog", "social-image", "social-video"},
		"Platforms to publish to (blog, social-image, social-video)")
	runCmd.Flags().StringVar(&titleFlag, "title", "", "Title hint for the generated content")
	runCmd.Flags().StringVar(&descFlag, "description", "", "Description hint for the generated content")
	runCmd.Flags().StringVar(&workdirFlag, "workdir", defaultWorkdir(), "Directory for media and artifacts")
	runCmd.Flags().StringVarP(&modelFlag, "model", "m", analyze.DefaultModel, "Gemini model to use")
	rootCmd.AddCommand(runCmd)
}

func defaultWorkdir() string {
	return filepath.Join(os.TempDir(), "florapost")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
