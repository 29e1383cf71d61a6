// Command modelpilot runs the multimodal model manager as an HTTP service
// or as one-shot CLI tools.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"modelpilot/internal/config"
)

var (
	configPath string
	envFile    string
	logLevel   string

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "modelpilot",
	Short: "Adaptive multimodal model manager",
	Long: `modelpilot profiles the host, picks models that fit its memory and
runs image, text, audio and video analysis through Ollama or Hugging Face.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := loadDotEnv(envFile); err != nil {
			return err
		}
		c, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			c.Log.Level = logLevel
		}
		cfg = c
		return setupLogging(cfg.Log)
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		closeLogging()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (.yaml, .json or .toml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before the environment is read")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd, profileCmd, modelsCmd, processCmd)
}

// loadDotEnv loads path if it exists. Variables already set win.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if !filepath.IsAbs(path) {
		if wd, err := os.Getwd(); err == nil {
			path = filepath.Join(wd, path)
		}
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

func loadConfig(path string) (config.Config, error) {
	var c config.Config
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return c, err
		}
		c = loaded
	}
	c.ApplyEnv()
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("modelpilot")
		os.Exit(1)
	}
}
