package config

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go-dataverse-download/internal/api"
	"go-dataverse-download/internal/models"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Default values for configuration
const (
	DefaultSavePath            = "downloads"
	DefaultHistoryPath         = "history.db" // Relative to SavePath if not absolute
	DefaultLogApiRequests      = false
	DefaultAPIClientTimeoutSec = 60 // seconds
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultConfigFilePath      = "config.toml"

	// Download specific defaults
	DefaultConfigDownloadChunkSizeKB    = 8
	DefaultConfigDownloadPostProcess    = true
	DefaultConfigDownloadRemoveArchives = true
	DefaultConfigDownloadOriginal       = false
)

// setViperDefaults configures Viper with the application's default values.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("url", "")
	v.SetDefault("apitoken", "")
	v.SetDefault("savepath", DefaultSavePath)
	v.SetDefault("historypath", DefaultHistoryPath) // Will be made absolute later if relative
	v.SetDefault("logapirequests", DefaultLogApiRequests)
	v.SetDefault("apiclienttimeoutsec", DefaultAPIClientTimeoutSec)
	v.SetDefault("loglevel", DefaultLogLevel)
	v.SetDefault("logformat", DefaultLogFormat)
	v.SetDefault("files", []string{})

	// Download defaults
	v.SetDefault("download.chunksizekb", DefaultConfigDownloadChunkSizeKB)
	v.SetDefault("download.postprocess", DefaultConfigDownloadPostProcess)
	v.SetDefault("download.removearchives", DefaultConfigDownloadRemoveArchives)
	v.SetDefault("download.original", DefaultConfigDownloadOriginal)
}

// CliFlags holds pointers to values received from command-line flags.
// Nil fields indicate the flag was not provided by the user.
type CliFlags struct {
	// Global/Persistent Flags
	ConfigFilePath      *string
	LogLevel            *string // --log-level
	LogFormat           *string // --log-format
	LogApiRequests      *bool   // --log-api
	SavePath            *string // --save-path
	APIToken            *string // --token
	APIClientTimeoutSec *int    // --api-timeout

	// Command-specific flags nested
	URL      *string // --url (download, summary)
	Files    *[]string
	Download *CliDownloadFlags
}

type CliDownloadFlags struct {
	ChunkSizeKB    *int  // --chunk-size
	PostProcess    *bool // --post-process
	RemoveArchives *bool // --remove-archives
	Original       *bool // --original
}

// Initialize loads configuration based on defaults, config file, and flags.
// Precedence: Flags > Config File > Defaults.
func Initialize(flags CliFlags) (models.Config, http.RoundTripper, error) {
	finalCfg := models.Config{
		SavePath:            DefaultSavePath,
		HistoryPath:         "", // Derived from SavePath later
		LogApiRequests:      DefaultLogApiRequests,
		APIClientTimeoutSec: DefaultAPIClientTimeoutSec,
		Download: models.DownloadConfig{
			ChunkSizeKB:    DefaultConfigDownloadChunkSizeKB,
			PostProcess:    DefaultConfigDownloadPostProcess,
			RemoveArchives: DefaultConfigDownloadRemoveArchives,
		},
	}

	v := viper.New()
	v.SetEnvPrefix("DATAVERSE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setViperDefaults(v)

	actualConfigFilePath := DefaultConfigFilePath
	if flags.ConfigFilePath != nil {
		actualConfigFilePath = *flags.ConfigFilePath
		log.Debugf("[Initialize] Using config file path from CLI flag: %s", actualConfigFilePath)
	}
	v.SetConfigFile(actualConfigFilePath)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			log.Debugf("[Initialize] Config file '%s' not found. Using defaults and CLI flags only.", actualConfigFilePath)
		} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Debugf("[Initialize] Config file '%s' not found. Using defaults and CLI flags only.", actualConfigFilePath)
		} else {
			log.Warnf("[Initialize] Error reading config file '%s': %v. Using defaults and CLI flags only.", actualConfigFilePath, err)
		}
		// Unmarshal still runs so Viper's defaults apply.
	} else {
		log.Infof("[Initialize] Successfully read config file: %s", v.ConfigFileUsed())
	}

	if err := v.Unmarshal(&finalCfg); err != nil {
		log.Errorf("[Initialize] Failed to unmarshal config from Viper: %v", err)
		return models.Config{}, nil, fmt.Errorf("failed to unmarshal config from viper: %w", err)
	}

	// --- Override with CLI Flags ---
	if flags.APIToken != nil {
		finalCfg.APIToken = *flags.APIToken
	}
	if flags.SavePath != nil {
		finalCfg.SavePath = *flags.SavePath
	}
	if flags.LogApiRequests != nil {
		finalCfg.LogApiRequests = *flags.LogApiRequests
	}
	if flags.APIClientTimeoutSec != nil {
		finalCfg.APIClientTimeoutSec = *flags.APIClientTimeoutSec
	}
	if flags.LogLevel != nil {
		finalCfg.LogLevel = *flags.LogLevel
	}
	if flags.LogFormat != nil {
		finalCfg.LogFormat = *flags.LogFormat
	}
	if flags.URL != nil {
		finalCfg.URL = *flags.URL
	}
	if flags.Files != nil && len(*flags.Files) > 0 {
		finalCfg.Files = *flags.Files
	}

	if flags.Download != nil {
		if flags.Download.ChunkSizeKB != nil {
			finalCfg.Download.ChunkSizeKB = *flags.Download.ChunkSizeKB
		}
		if flags.Download.PostProcess != nil {
			finalCfg.Download.PostProcess = *flags.Download.PostProcess
		}
		if flags.Download.RemoveArchives != nil {
			finalCfg.Download.RemoveArchives = *flags.Download.RemoveArchives
		}
		if flags.Download.Original != nil {
			finalCfg.Download.Original = *flags.Download.Original
		}
	}

	// --- Derive Default Paths if Empty ---
	defaultHistoryPath := filepath.Join(finalCfg.SavePath, DefaultHistoryPath)
	if finalCfg.HistoryPath == "" || finalCfg.HistoryPath == DefaultHistoryPath {
		finalCfg.HistoryPath = defaultHistoryPath
		log.Debugf("[Initialize] HistoryPath defaulted based on SavePath: %s", finalCfg.HistoryPath)
	}

	// --- Validation ---
	if finalCfg.SavePath == "" {
		return models.Config{}, nil, fmt.Errorf("SavePath cannot be empty (set via --save-path flag or SavePath in config)")
	}
	if finalCfg.Download.ChunkSizeKB <= 0 {
		log.Warnf("[Initialize] Invalid ChunkSizeKB %d, falling back to %d.", finalCfg.Download.ChunkSizeKB, DefaultConfigDownloadChunkSizeKB)
		finalCfg.Download.ChunkSizeKB = DefaultConfigDownloadChunkSizeKB
	}

	// --- Setup HTTP Transport ---
	baseTransport := http.DefaultTransport
	var finalTransport http.RoundTripper = baseTransport

	if finalCfg.LogApiRequests {
		logFilePath := "api.log"
		if _, statErr := os.Stat(finalCfg.SavePath); statErr == nil {
			logFilePath = filepath.Join(finalCfg.SavePath, logFilePath)
		} else {
			log.Warnf("SavePath '%s' not found, saving api.log to current directory.", finalCfg.SavePath)
		}
		log.Infof("API logging to file: %s", logFilePath)

		loggingTransport, err := api.NewLoggingTransport(baseTransport, logFilePath)
		if err != nil {
			log.WithError(err).Error("Failed to initialize API logging transport, logging disabled.")
		} else {
			finalTransport = loggingTransport
		}
	}

	log.Debug("Configuration initialized successfully.")
	return finalCfg, finalTransport, nil
}
