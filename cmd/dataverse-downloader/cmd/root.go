package cmd

import (
	"fmt"
	"net/http"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-dataverse-download/internal/config"
	"go-dataverse-download/internal/models"
)

// cfgFile holds the path to the config file specified by the user
var cfgFile string

// logLevelFlag holds the value of the --log-level flag
var logLevelFlag string

// logFormatFlag holds the value of the --log-format flag
var logFormatFlag string

// logApiFlag holds the value of the --log-api flag
var logApiFlag bool

// savePathFlag holds the value of the --save-path flag
var savePathFlag string

// tokenFlag holds the value of the --token flag
var tokenFlag string

// apiTimeoutFlag holds the value of the --api-timeout flag
var apiTimeoutFlag int

// globalConfig holds the loaded configuration
var globalConfig models.Config

// globalHttpTransport holds the globally configured HTTP transport (base or logging-wrapped)
var globalHttpTransport http.RoundTripper

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dataverse-downloader",
	Short: "A tool to download research datasets from Dataverse installations",
	Long: `Dataverse Downloader fetches dataset metadata from a Dataverse
installation, downloads selected files with checksum verification and
optionally extracts ZIP archives.`,
	PersistentPreRunE: loadGlobalConfig, // Load config before any command runs
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Configuration file path (default is ./config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Logging level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&logFormatFlag, "log-format", "", "Logging format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&logApiFlag, "log-api", false, "Log API requests/responses to api.log (overrides config)")
	rootCmd.PersistentFlags().StringVar(&savePathFlag, "save-path", "", "Directory to save downloaded files (overrides config)")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "Dataverse API token for restricted datasets (overrides config)")
	rootCmd.PersistentFlags().IntVar(&apiTimeoutFlag, "api-timeout", -1, "Timeout for API HTTP client in seconds (overrides config, -1 uses config default)")
}

// loadGlobalConfig attempts to load the configuration and applies flag overrides.
// It also sets up logging and the global HTTP transport.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	flags := config.CliFlags{}
	if cfgFile != "" {
		flags.ConfigFilePath = &cfgFile
	}
	if cmd.Flags().Changed("log-level") {
		flags.LogLevel = &logLevelFlag
	}
	if cmd.Flags().Changed("log-format") {
		flags.LogFormat = &logFormatFlag
	}
	if cmd.Flags().Changed("log-api") {
		flags.LogApiRequests = &logApiFlag
	}
	if cmd.Flags().Changed("save-path") {
		flags.SavePath = &savePathFlag
	}
	if cmd.Flags().Changed("token") {
		flags.APIToken = &tokenFlag
	}
	if cmd.Flags().Changed("api-timeout") {
		flags.APIClientTimeoutSec = &apiTimeoutFlag
	}
	collectCommandFlags(cmd, &flags)

	cfg, transport, err := config.Initialize(flags)
	if err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}
	globalConfig = cfg
	globalHttpTransport = transport

	setupLogging(cfg.LogLevel, cfg.LogFormat)
	return nil
}

// collectCommandFlags lets subcommands contribute their changed flags to the
// config merge. Registered by the command's init.
var commandFlagCollectors []func(cmd *cobra.Command, flags *config.CliFlags)

func collectCommandFlags(cmd *cobra.Command, flags *config.CliFlags) {
	for _, collect := range commandFlagCollectors {
		collect(cmd, flags)
	}
}

// setupLogging configures the logrus level and formatter.
func setupLogging(level, format string) {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("Invalid log level '%s', using 'info'.", level)
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)

	switch format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}
