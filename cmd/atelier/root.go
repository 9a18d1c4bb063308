package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xraph/atelier"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "atelier",
	Short: "Run job graphs against a remote compute server",
	Long: `Atelier submits declarative job graphs to a remote compute server,
waits for completion, and downloads the produced artifacts.

The server address comes from --server, the ATELIER_SERVER environment
variable, or the config file, in that order.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/atelier/config.yaml)")
	rootCmd.PersistentFlags().StringP("server", "s", "http://127.0.0.1:8188",
		"compute server address")
	rootCmd.PersistentFlags().Duration("max-wait", 10*time.Minute,
		"maximum wall-clock wait for a job")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")

	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("max_wait", rootCmd.PersistentFlags().Lookup("max-wait"))
}

func initConfig() {
	viper.SetDefault("server", "http://127.0.0.1:8188")
	viper.SetDefault("max_wait", 10*time.Minute)
	viper.SetDefault("poll_interval", time.Second)
	viper.SetDefault("download_batch", 3)
	viper.SetDefault("download_rate", 0.0)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		viper.AddConfigPath(filepath.Join(home, ".config", "atelier"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix("atelier")
	viper.AutomaticEnv()

	// A missing config file is fine; flags and env cover everything.
	_ = viper.ReadInConfig()

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// loadConfig materializes the client configuration from viper.
func loadConfig() atelier.Config {
	cfg := atelier.DefaultConfig()
	if d := viper.GetDuration("max_wait"); d > 0 {
		cfg.MaxWait = d
	}
	if d := viper.GetDuration("poll_interval"); d > 0 {
		cfg.PollInterval = d
	}
	if n := viper.GetInt("download_batch"); n > 0 {
		cfg.DownloadBatchSize = n
	}
	if r := viper.GetFloat64("download_rate"); r > 0 {
		cfg.DownloadRateLimit = r
	}
	return cfg
}
