package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"vidcompact/internal/compressor"
	"vidcompact/internal/config"
	"vidcompact/internal/inspect"
	"vidcompact/pkg/models"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, models.ErrCancelled) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "vidcompact",
		Short:         "Compress video files to a quality preset or a target size",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "config.yml", "config file path")

	root.AddCommand(newCompressCmd(&cfgPath))
	root.AddCommand(newEstimateCmd(&cfgPath))
	root.AddCommand(newCapsCmd(&cfgPath))
	return root
}

func setup(cfgPath string) (*config.Config, hclog.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log := hclog.New(&hclog.LoggerOptions{
		Name:  "vidcompact",
		Level: hclog.LevelFromString(cfg.LogLevel),
	})
	return cfg, log, nil
}

// signalContext cancels on Ctrl+C or SIGTERM so a running session winds
// down cooperatively instead of leaving a corrupt container behind.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newCompressCmd(cfgPath *string) *cobra.Command {
	var (
		input, output string
		targetMB      float64
		preset        string
		codec         string
		noAudio       bool
		callbackURL   string
	)

	cmd := &cobra.Command{
		Use:   "compress",
		Short: "Compress a video to a preset or a target size in MB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			if callbackURL != "" {
				cfg.CallbackURL = callbackURL
			}

			comp, err := compressor.New(cfg, log)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			req := models.CompressionRequest{
				Input:        input,
				Output:       output,
				TargetSizeMB: targetMB,
				Preset:       models.Preset(preset),
				KeepAudio:    !noAudio,
				Codec:        models.Codec(codec),
			}

			lastPct := -5
			out, err := comp.Compress(ctx, req, func(f float64) {
				pct := int(f * 100)
				if pct/5 > lastPct/5 || pct == 100 {
					fmt.Printf("\rcompressing... %3d%%", pct)
					lastPct = pct
				}
			})
			fmt.Println()

			if err != nil {
				// Whatever landed at the output path is invalid now.
				_ = os.Remove(output)
				return err
			}
			fmt.Println("wrote", out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "source video file")
	cmd.Flags().StringVarP(&output, "output", "o", "", "destination file")
	cmd.Flags().Float64Var(&targetMB, "target-size-mb", 0, "desired output size in megabytes")
	cmd.Flags().StringVar(&preset, "preset", "", "quality preset: low, medium or high")
	cmd.Flags().StringVar(&codec, "codec", "h264", "output codec: h264 or hevc")
	cmd.Flags().BoolVar(&noAudio, "no-audio", false, "drop the audio track")
	cmd.Flags().StringVar(&callbackURL, "callback-url", "", "POST progress and result to this URL")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newEstimateCmd(cfgPath *string) *cobra.Command {
	var (
		input   string
		noAudio bool
	)

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Print the estimated output size per preset",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			comp, err := compressor.New(cfg, log)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			meta, err := comp.Inspect(ctx, input)
			if err != nil {
				return err
			}

			fmt.Printf("%s: %.1fs %dx%d %.2ffps audio=%v\n",
				input, meta.DurationSec, meta.Width, meta.Height, meta.FrameRate, meta.HasAudio)
			for _, p := range []models.Preset{models.PresetLow, models.PresetMedium, models.PresetHigh} {
				mb := inspect.EstimateSize(meta, p, !noAudio)
				fmt.Printf("  %-7s ~%.1f MB\n", p, mb)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "source video file")
	cmd.Flags().BoolVar(&noAudio, "no-audio", false, "estimate without an audio track")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newCapsCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "caps",
		Short: "Show what the local encode stack supports",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			comp, err := compressor.New(cfg, log)
			if err != nil {
				return err
			}
			fmt.Println(strings.Join(comp.Capabilities(), ", "))
			return nil
		},
	}
}
