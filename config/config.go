package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/babelcloud/gbox-recorder/internal/media/clock"
	"github.com/babelcloud/gbox-recorder/internal/media/convert"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// GBOX_RECORDER_VIDEO_FPS for video.fps.
const EnvPrefix = "GBOX_RECORDER"

var v *viper.Viper

func init() {
	v = newDefaultViper()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Look for config in the following paths
	configPaths := []string{
		".",
		"$HOME/.gbox-recorder",
		"/etc/gbox-recorder",
	}
	for _, path := range configPaths {
		v.AddConfigPath(os.ExpandEnv(path))
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			panic(fmt.Sprintf("Fatal error reading config file: %s", err))
		}
	}
}

// newDefaultViper returns an instance with defaults and environment
// overrides but no config file.
func newDefaultViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	// Environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("home", filepath.Join(xdg.Home, ".gbox-recorder"))
	// Resolved against home when empty.
	v.SetDefault("preset.path", "")

	videos := xdg.UserDirs.Videos
	if videos == "" {
		videos = filepath.Join(xdg.Home, "Videos")
	}
	v.SetDefault("output.dir", videos)
	v.SetDefault("output.format", "mp4")

	v.SetDefault("video.fps", 30)
	v.SetDefault("video.max_width", 0)
	v.SetDefault("video.encoder", "auto")
	v.SetDefault("audio.encoder", "auto")

	pool := convert.DefaultPoolConfig()
	v.SetDefault("pool.enabled", true)
	v.SetDefault("pool.workers", pool.Workers)
	v.SetDefault("pool.input_capacity", pool.InputCapacity)
	v.SetDefault("pool.output_capacity", pool.OutputCapacity)
	v.SetDefault("pool.drop_strategy", pool.DropStrategy.String())

	v.SetDefault("fallback.max_attempts", 3)
	v.SetDefault("fallback.retry_delay", "500ms")

	v.SetDefault("mux.fragment_duration", "1s")
	v.SetDefault("mux.segment_duration", "3s")
	v.SetDefault("mux.encoder_retries", 5)

	v.SetDefault("clock.mode", string(clock.ModeRealTime))
	v.SetDefault("ffmpeg.path", "ffmpeg")
	v.SetDefault("server.port", 0)
}

// SetConfigFile reads an explicit config file on top of the defaults.
func SetConfigFile(path string) error {
	v.SetConfigFile(path)
	return v.ReadInConfig()
}

// ConfigFileUsed returns the config file that was read, if any.
func ConfigFileUsed() string {
	return v.ConfigFileUsed()
}

// GetHome returns the recorder home directory
func GetHome() string {
	return v.GetString("home")
}

// GetPresetPath returns the presets file path
func GetPresetPath() string {
	if p := v.GetString("preset.path"); p != "" {
		return p
	}
	return filepath.Join(GetHome(), "presets.toml")
}

func GetOutputDir() string {
	return v.GetString("output.dir")
}

func GetFormat() string {
	return v.GetString("output.format")
}

func GetFPS() int {
	return v.GetInt("video.fps")
}

func GetMaxWidth() int {
	return v.GetInt("video.max_width")
}

func GetVideoEncoder() string {
	return v.GetString("video.encoder")
}

func GetAudioEncoder() string {
	return v.GetString("audio.encoder")
}

// GetPoolEnabled reports whether conversion runs on the worker pool.
func GetPoolEnabled() bool {
	return v.GetBool("pool.enabled")
}

// GetPoolConfig assembles the conversion pool settings. An unknown drop
// strategy falls back to the default.
func GetPoolConfig() convert.PoolConfig {
	cfg := convert.DefaultPoolConfig()
	cfg.Workers = v.GetInt("pool.workers")
	cfg.InputCapacity = v.GetInt("pool.input_capacity")
	cfg.OutputCapacity = v.GetInt("pool.output_capacity")
	if s, err := convert.ParseDropStrategy(v.GetString("pool.drop_strategy")); err == nil {
		cfg.DropStrategy = s
	}
	return cfg
}

func GetFallbackMaxAttempts() int {
	return v.GetInt("fallback.max_attempts")
}

func GetFallbackRetryDelay() time.Duration {
	return v.GetDuration("fallback.retry_delay")
}

func GetFragmentDuration() time.Duration {
	return v.GetDuration("mux.fragment_duration")
}

func GetSegmentDuration() time.Duration {
	return v.GetDuration("mux.segment_duration")
}

func GetEncoderRetries() int {
	return v.GetInt("mux.encoder_retries")
}

// GetClockMode returns the timestamp synchronizer mode. Unknown values are
// passed through so the session rejects them at start.
func GetClockMode() clock.Mode {
	raw := v.GetString("clock.mode")
	if m, err := clock.ParseMode(raw); err == nil {
		return m
	}
	return clock.Mode(raw)
}

// GetFFmpegPath returns the ffmpeg binary used by capture drivers and encoders
func GetFFmpegPath() string {
	return v.GetString("ffmpeg.path")
}

// GetServerPort returns the control server port; 0 disables it.
func GetServerPort() int {
	return v.GetInt("server.port")
}
