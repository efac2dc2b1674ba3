// Package cli implements the command-line fragment renderer.
package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gtav-tiles/server/internal/cache"
	"github.com/gtav-tiles/server/internal/data/tiles"
	"github.com/gtav-tiles/server/internal/logger"
	"github.com/gtav-tiles/server/internal/render"
	"github.com/gtav-tiles/server/internal/service"
	"github.com/gtav-tiles/server/pkg/colormap"
)

const (
	defaultTilesDir = "assets"
	defaultOutput   = "fragment.jpg"
	defaultSize     = 700
	defaultColor    = "green"
)

// renderOpts holds the command-line flags for the render command.
type renderOpts struct {
	x, y     float64
	width    int
	height   int
	output   string
	color    string
	noMarker bool
	ext      string
	tileSize int
	quality  int
	logLevel string
}

// NewRenderCommand creates the root command: render one fragment centred on
// a world position and save it as JPEG.
func NewRenderCommand() *cobra.Command {
	opts := renderOpts{
		width:    defaultSize,
		height:   defaultSize,
		output:   defaultOutput,
		color:    defaultColor,
		ext:      tiles.DefaultExt,
		tileSize: tiles.DefaultTileSize,
		quality:  render.DefaultJPEGQuality,
		logLevel: "info",
	}

	cmd := &cobra.Command{
		Use:           "render [tiles_dir]",
		Short:         "Render a GTA V map fragment around a world position",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			tilesDir := defaultTilesDir
			if len(args) == 1 {
				tilesDir = args[0]
			}
			if err := opts.validate(); err != nil {
				return err
			}

			log, err := logger.NewConsole(opts.logLevel)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer log.Sync()

			return runRender(cmd.Context(), tilesDir, &opts, log)
		},
	}

	cmd.Flags().Float64VarP(&opts.x, "x", "x", 0, "world X coordinate")
	cmd.Flags().Float64VarP(&opts.y, "y", "y", 0, "world Y coordinate")
	cmd.Flags().IntVar(&opts.width, "size-x", opts.width, "output width in pixels")
	cmd.Flags().IntVar(&opts.height, "size-y", opts.height, "output height in pixels")
	cmd.Flags().StringVarP(&opts.output, "output", "o", opts.output, "output file")
	cmd.Flags().StringVarP(&opts.color, "color", "c", opts.color, "marker color: "+strings.Join(colormap.Names(), ", "))
	cmd.Flags().BoolVar(&opts.noMarker, "no-marker", false, "do not draw the position marker")
	cmd.Flags().StringVar(&opts.ext, "ext", opts.ext, "tile file extension")
	cmd.Flags().IntVar(&opts.tileSize, "tile-size", opts.tileSize, "tile edge length in pixels")
	cmd.Flags().IntVar(&opts.quality, "quality", opts.quality, "JPEG quality (1-100)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", opts.logLevel, "log level: debug, info, warn, error")

	_ = cmd.MarkFlagRequired("x")
	_ = cmd.MarkFlagRequired("y")

	return cmd
}

func (o *renderOpts) validate() error {
	if o.width <= 0 || o.height <= 0 {
		return fmt.Errorf("%w: %dx%d", render.ErrInvalidSize, o.width, o.height)
	}
	if o.quality < 1 || o.quality > 100 {
		return fmt.Errorf("quality %d outside 1..100", o.quality)
	}
	if o.tileSize <= 0 {
		return fmt.Errorf("tile size %d must be positive", o.tileSize)
	}
	if o.output == "" {
		return fmt.Errorf("output path is required")
	}
	return nil
}

func runRender(ctx context.Context, tilesDir string, opts *renderOpts, log *zap.Logger) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	color := colormap.ParseMarkerColor(opts.color)
	if !strings.EqualFold(strings.TrimSpace(opts.color), color.String()) {
		log.Warn("Unknown marker color, using default",
			zap.String("color", opts.color),
			zap.String("using", color.String()),
		)
	}

	svc, err := service.OpenFragmentService(service.MapOptions{
		MapID:        "cli",
		TilesDir:     tilesDir,
		TileExt:      opts.ext,
		TileSize:     opts.tileSize,
		TileCapacity: cache.DefaultTileCapacity,
		JPEGQuality:  opts.quality,
		Logger:       log,
	})
	if err != nil {
		return err
	}

	stats, err := svc.RenderFile(opts.output, service.FragmentRequest{
		X:      opts.x,
		Y:      opts.y,
		Width:  opts.width,
		Height: opts.height,
		Marker: !opts.noMarker,
		Color:  color,
	})
	if err != nil {
		return fmt.Errorf("failed to render fragment: %w", err)
	}

	log.Info("Saved fragment",
		zap.String("path", opts.output),
		zap.Int("width", opts.width),
		zap.Int("height", opts.height),
		zap.Int("tiles", stats.Tiles),
		zap.Int("missing", stats.Missing),
		zap.Int("failed", stats.Failed),
		zap.Bool("resized", stats.Resized),
	)
	return nil
}
