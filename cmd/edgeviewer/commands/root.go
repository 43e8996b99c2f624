package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "edgeviewer",
		Short: "EdgeViewer - live camera viewer with edge detection",
		Long: `EdgeViewer captures frames from a camera, runs them through an edge
detection routine and renders the result with a selectable display effect.

Features:
  • V4L2, GStreamer and synthetic pattern capture sources
  • OpenCV Canny edge detection (build tag gocv) or a passthrough backend
  • Normal, grayscale and invert display effects
  • MJPEG stream, web viewer and optional X11 window
  • FPS, resolution and processing time telemetry
  • Sampled frame export to a remote sink`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/edgeviewer/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// flagOverrides applies --port and --log-level without persisting them
func flagOverrides(port *int, level *string) {
	if p := viper.GetInt("server_port"); rootCmd.PersistentFlags().Changed("port") && p > 0 {
		*port = p
	}
	if l := viper.GetString("log_level"); rootCmd.PersistentFlags().Changed("log-level") && l != "" {
		*level = l
	}
}
