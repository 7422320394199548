package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "audiorender",
	Short: "Real-time audio rendering and synchronization engine",
	Long: `audiorender - A real-time audio rendering engine built around a
rewindable circular sample buffer, a pausable worker primitive and a
pull-model device callback.

Features:
  - Circular sample buffer with rewind history and stream-time write tags
  - Latency tracking against a reference media clock with skip/rewind
    sync corrections
  - Tempo-preserving stretch and shrink for slow/fast playback
  - Volume, balance and mute applied in the callback path
  - Support for MP3, FLAC, and WAV audio formats
  - SoXR sample rate conversion to a configurable output rate
  - PortAudio output plus a headless timer-driven sink

Commands:
  - play: Play audio files with live latency and buffer monitoring`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
