package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"image-shrinker-go/internal/codec"
	"image-shrinker-go/internal/compressor"
	"image-shrinker-go/internal/config"
	"image-shrinker-go/internal/fileutil"
	"image-shrinker-go/internal/logger"
	"image-shrinker-go/internal/metadata"
	"image-shrinker-go/internal/sizer"
	"image-shrinker-go/internal/statistics"
	"image-shrinker-go/internal/web"
)

var (
	cfgFile   string
	target    string
	quality   float64
	outDir    string
	workers   int
	dryRun    bool
	verbose   bool
	quiet     bool
	version   = "dev"
	buildTime string
	port      int
)

// rootCmd compresses the given files and directories.
var rootCmd = &cobra.Command{
	Use:   "image-shrinker [files or directories...]",
	Short: "Shrink images to a target file size",
	Long: `ImageShrinker re-encodes images so that each output lands as close as
possible to a target size in bytes.

The quality is searched by bisection: every attempt is encoded, measured and
compared with the target until the result is within tolerance or the attempt
budget is spent, in which case the closest attempt wins. Images larger than
the configured maximum dimension are downscaled once before the search.

Sizes accept units: 500KB, 1.5MB, 2048b. A bare number means kilobytes.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(args)
	},
}

// infoCmd prints what the tool knows about a single image.
var infoCmd = &cobra.Command{
	Use:   "info <file>",
	Short: "Show dimensions, size and EXIF details of an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInfo(args[0])
	},
}

// serveCmd starts the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP compression API",
	Long: `Starts an HTTP server exposing:
- POST /api/compress  multipart upload, responds with the compressed image
- POST /api/batch     compress files on the server's disk
- GET  /api/status    current batch state
- GET  /ws            batch progress over WebSocket`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.Version = version
	if buildTime != "" {
		rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	rootCmd.Flags().StringVar(&target, "target", "", "target size per image, e.g. 500KB (default: half of each image, at least 20KB)")
	rootCmd.Flags().Float64Var(&quality, "quality", 0, "initial quality in (0,1] (default from config, 0.7)")
	rootCmd.Flags().StringVar(&outDir, "out", "", "output directory (default from config)")
	rootCmd.Flags().IntVar(&workers, "workers", 0, "number of parallel workers (default from config)")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "run the search without writing files")

	serveCmd.Flags().IntVar(&port, "port", 0, "port to run the web server on (default from config, 8080)")

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(serveCmd)
}

// runCompress executes a batch compression over args.
func runCompress(args []string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	params, err := compressParams(cfg, args)
	if err != nil {
		return err
	}

	log := setupLogger(cfg)
	stats := statistics.NewStatistics()
	opts := []compressor.Option{compressor.WithStatistics(stats)}
	opts = append(opts, metadataOptions(cfg, log)...)
	if !quiet {
		opts = append(opts, compressor.WithProgress(printProgress))
	}

	comp := compressor.NewDefaultCompressor(newEncoder(cfg, log), logger.WithOperation(log, "batch"), opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := comp.Compress(ctx, params)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("compression failed: %w", err)
	}

	if !quiet {
		fmt.Println("\n" + stats.GetSummary())
		if stats.FilesWithErrors > 0 {
			fmt.Println("\n" + stats.GetErrorSummary())
		}
	}
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Action == compressor.ActionError {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(results))
	}
	return nil
}

// compressParams merges CLI flags over the configuration.
func compressParams(cfg *config.Config, args []string) (compressor.CompressionParams, error) {
	params := compressor.CompressionParams{
		InputPaths:     args,
		TargetDir:      cfg.Processing.TargetDirectory,
		InitialQuality: cfg.Encoder.DefaultQuality,
		Formats:        cfg.Processing.SupportedExtensions,
		Workers:        cfg.Performance.WorkerThreads,
		DryRun:         cfg.Processing.DryRun || dryRun,
		MarkCompressed: cfg.Processing.MarkCompressed,
	}

	if target != "" {
		n, err := fileutil.ParseSize(target)
		if err != nil {
			return params, fmt.Errorf("invalid --target: %w", err)
		}
		params.TargetSize = n
	} else {
		n, err := cfg.DefaultTargetBytes()
		if err != nil {
			return params, err
		}
		params.TargetSize = n
	}

	if quality != 0 {
		if quality < 0 || quality > 1 {
			return params, fmt.Errorf("--quality must be in (0,1], got %v", quality)
		}
		params.InitialQuality = quality
	}
	if outDir != "" {
		params.TargetDir = outDir
	}
	if workers > 0 {
		params.Workers = workers
	}
	return params, nil
}

// metadataOptions wires the compression mark check and the exiftool marker.
func metadataOptions(cfg *config.Config, log *logrus.Logger) []compressor.Option {
	var opts []compressor.Option
	if cfg.Processing.SkipCompressed {
		opts = append(opts, compressor.WithMarkChecker(metadata.NewInspector(log)))
	}
	if cfg.Processing.MarkCompressed {
		marker, err := metadata.NewExiftoolMarker()
		if err != nil {
			log.Warnf("Compressed files will not be marked: %v", err)
		} else {
			opts = append(opts, compressor.WithMarker(marker))
		}
	}
	return opts
}

func newEncoder(cfg *config.Config, log *logrus.Logger) *sizer.Encoder {
	return sizer.NewEncoder(codec.New(cfg.CodecOptions()...), cfg.SearchOptions(), log)
}

func printProgress(done, total int, r compressor.CompressionResult) {
	switch r.Action {
	case compressor.ActionError:
		fmt.Fprintf(os.Stderr, "[%d/%d] %s: %s\n", done, total, r.InputPath, r.Message)
	case compressor.ActionSkipped:
		fmt.Fprintf(os.Stderr, "[%d/%d] %s: skipped\n", done, total, r.InputPath)
	default:
		fmt.Fprintf(os.Stderr, "[%d/%d] %s -> %s (%s, q=%.2f, %d attempts)\n",
			done, total, r.InputPath, r.OutputPath,
			fileutil.FormatFileSize(r.CompressedSize), r.Quality, r.Attempts)
	}
}

// runInfo prints decoded dimensions, size and EXIF details for filePath.
func runInfo(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}

	mimeType := codec.DetectMIME(data)
	if mimeType == "" {
		mimeType = codec.MIMEFromPath(filePath)
	}
	fmt.Printf("File:          %s\n", filePath)
	fmt.Printf("Size:          %s (%d bytes)\n", fileutil.FormatFileSize(int64(len(data))), len(data))
	fmt.Printf("Type:          %s\n", mimeType)

	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		fmt.Printf("Stored size:   %dx%d\n", cfg.Width, cfg.Height)
	}
	img, err := codec.New().Decode(context.Background(), data, mimeType)
	if err != nil {
		fmt.Printf("Decode error:  %v\n", err)
	} else {
		b := img.Bounds()
		fmt.Printf("Dimensions:    %dx%d\n", b.Dx(), b.Dy())
		w, h := sizer.FitDimensions(b.Dx(), b.Dy(), sizer.DefaultMaxDimension)
		if w != b.Dx() || h != b.Dy() {
			fmt.Printf("Downscaled to: %dx%d before compression\n", w, h)
		}
	}
	fmt.Printf("Output type:   %s\n", codec.OutputMIME(mimeType))
	fmt.Printf("Default target: %s\n", fileutil.FormatFileSize(fileutil.DefaultTarget(int64(len(data)))))

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	info, err := metadata.NewInspector(log).Inspect(filePath)
	if err != nil {
		fmt.Printf("EXIF error:    %v\n", err)
		return nil
	}
	if !info.HasEXIF {
		fmt.Println("EXIF:          none")
		return nil
	}
	fmt.Printf("Camera:        %s\n", info.CameraModel)
	fmt.Printf("Software:      %s\n", info.Software)
	fmt.Printf("Orientation:   %d\n", info.Orientation)
	if info.DateTaken != nil {
		fmt.Printf("Taken:         %s\n", info.DateTaken.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("Compressed:    %t\n", info.Compressed())
	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe() error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CONFIG LOAD ERROR: %v\n", err)
		cfg = config.DefaultConfig()
	}
	if port == 0 {
		port = cfg.Server.Port
	}

	log := setupLogger(cfg)
	var opts []web.Option
	if cfg.Processing.SkipCompressed {
		opts = append(opts, web.WithMarkChecker(metadata.NewInspector(log)))
	}
	if cfg.Processing.MarkCompressed {
		if marker, err := metadata.NewExiftoolMarker(); err == nil {
			opts = append(opts, web.WithMarker(marker))
		} else {
			log.Warnf("Batch outputs will not be marked: %v", err)
		}
	}
	server := web.NewServer(cfg, log, newEncoder(cfg, log), opts...)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Printf("ImageShrinker API listening on http://localhost:%d\n", port)
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	<-sigChan
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("Server stopped gracefully")
	return nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet,
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
