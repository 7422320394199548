package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drgolem/go-portaudio/portaudio"
	"github.com/spf13/cobra"

	"github.com/drgolem/audiorender/internal/streamplayer"
	"github.com/drgolem/audiorender/pkg/worker"
)

var (
	deviceIdx  int
	frames     int
	latencyMs  int
	sampleRate int
	speed      float64
	volume     float64
	balance    float64
	mute       bool
	syncClock  bool
	highres    bool
	verbose    bool
)

// playCmd represents the play command
var playCmd = &cobra.Command{
	Use:   "play <audio_file>",
	Short: "Play audio files (MP3, FLAC, WAV)",
	Long: `Play an audio file through the rendering engine: decoded PCM flows
through a staging ring into the sample buffer, and the PortAudio callback
pulls rendered audio with stretch/shrink, volume and balance applied.

Examples:
  # Play an MP3 file
  audiorender play music.mp3

  # Play a FLAC file on a specific output device
  audiorender play --device 0 music.flac

  # Half-speed playback with the high resolution producer timer
  audiorender play --speed 0.5 --highres music.wav

  # Resample to 48kHz output and lower the volume
  audiorender play --rate 48000 --volume 0.5 music.mp3

  # Keep the audio synchronized to the media clock
  audiorender play --sync music.flac

Latency Recommendations:
  Low latency:    --latency 50  --frames 256
  Balanced:       --latency 100 --frames 512   (default)
  High stability: --latency 200 --frames 1024

Supported Formats:
  MP3:  .mp3 (decoded to 16-bit stereo)
  FLAC: .flac, .fla (decoded to 16-bit)
  WAV:  .wav (8/16/24/32-bit PCM, converted to 16-bit)

Status Reporting:
  Playback status is displayed every 2 seconds showing position,
  measured latency, buffer fill and dropped blocks.`,
	Args: cobra.ExactArgs(1),
	Run:  runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().IntVarP(&deviceIdx, "device", "d", 1, "Audio output device index")
	playCmd.Flags().IntVarP(&frames, "frames", "f", 0, "PortAudio frames per buffer (0 = derive from latency)")
	playCmd.Flags().IntVarP(&latencyMs, "latency", "l", 100, "Desired buffered audio depth in milliseconds")
	playCmd.Flags().IntVarP(&sampleRate, "rate", "r", 0, "Output sample rate in Hz (0 = follow source)")
	playCmd.Flags().Float64VarP(&speed, "speed", "s", 1.0, "Playback speed ratio (0.5 = half, 2.0 = double)")
	playCmd.Flags().Float64Var(&volume, "volume", 1.0, "Output volume (0..1)")
	playCmd.Flags().Float64Var(&balance, "balance", 0.0, "Stereo balance (-1 = left, 1 = right)")
	playCmd.Flags().BoolVar(&mute, "mute", false, "Start muted")
	playCmd.Flags().BoolVar(&syncClock, "sync", false, "Apply skip/rewind corrections against the media clock")
	playCmd.Flags().BoolVar(&highres, "highres", false, "Use the 1ms high resolution producer timer")
	playCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (debug logging)")
}

func runPlay(cmd *cobra.Command, args []string) {
	fileName := args[0]

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if _, err := os.Stat(fileName); os.IsNotExist(err) {
		slog.Error("File not found", "path", fileName)
		os.Exit(1)
	}

	slog.Info("Initializing PortAudio")
	if err := portaudio.Initialize(); err != nil {
		slog.Error("Failed to initialize PortAudio", "error", err)
		slog.Error("Hint: Make sure PortAudio is installed on your system")
		os.Exit(1)
	}
	defer portaudio.Terminate()

	slog.Info("PortAudio initialized",
		"version", portaudio.GetVersion())

	mode := worker.TimerCoarse
	if highres {
		mode = worker.TimerHighResolution
	}

	cfg := streamplayer.DefaultConfig()
	cfg.DeviceIndex = deviceIdx
	cfg.FramesPerBuffer = frames
	cfg.SampleRate = sampleRate
	cfg.DesiredLatency = time.Duration(latencyMs) * time.Millisecond
	cfg.TimerMode = mode
	cfg.SyncToClock = syncClock
	cfg.Logger = logger

	slog.Info("Audio configuration",
		"device_index", deviceIdx,
		"desired_latency", cfg.DesiredLatency,
		"timer_mode", mode,
		"sync_to_clock", syncClock)

	player := streamplayer.New(cfg)

	slog.Info("Opening audio file", "path", fileName)
	if err := player.OpenFile(fileName); err != nil {
		slog.Error("Failed to open file", "error", err)
		os.Exit(1)
	}
	defer player.Close()

	player.SetSpeed(speed)
	player.SetVolume(volume)
	player.SetBalance(balance)
	player.SetMuted(mute)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	slog.Info("Starting playback")
	if err := player.Play(); err != nil {
		slog.Error("Failed to start playback", "error", err)
		os.Exit(1)
	}

	statusDone := make(chan struct{})
	go monitorPlayback(player, statusDone)

	done := make(chan struct{})
	go func() {
		player.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Playback completed successfully")
	case sig := <-sigChan:
		slog.Info("Signal received, stopping playback", "signal", sig)
		if err := player.Stop(); err != nil {
			slog.Error("Failed to stop player", "error", err)
		}
	}

	close(statusDone)
	slog.Info("Exiting")
}

// monitorPlayback logs playback status every 2 seconds until done is closed.
func monitorPlayback(player *streamplayer.Player, done chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			st := player.Status()

			level := slog.LevelInfo
			if st.BufferPercent < 0.1 {
				level = slog.LevelWarn
			}

			slog.Log(nil, level, "Playback status",
				"file", st.FileName,
				"position", st.Position.Round(time.Millisecond),
				"clock", st.ClockPosition.Round(time.Millisecond),
				"latency", st.Latency.Round(time.Millisecond),
				"buffer_fill", fmt.Sprintf("%.1f%%", st.BufferPercent*100),
				"dropped_blocks", st.DroppedBlocks,
				"speed", st.Speed,
				"elapsed", st.Elapsed.Round(time.Second))
		case <-done:
			return
		}
	}
}
