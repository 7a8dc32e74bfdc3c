// Package cmd provides the command-line interface for oppcrawl.
// It handles command parsing, configuration loading, and run execution.
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/masahif/oppcrawl/internal/config"
	"github.com/masahif/oppcrawl/internal/logging"
)

var (
	cfgFile   string
	version   string
	buildTime string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "oppcrawl [listing-url]",
	Short: "Crawl a procurement listing and deliver opportunities to a webhook",
	Long: `oppcrawl walks a paginated opportunities listing in a headless browser,
extracts each detail page into a structured record, and delivers the records
in batches to a webhook sink.

The listing URL may be given as an argument or as site.listing_url in
oppcrawl.yml.`,
	Args:         cobra.MaximumNArgs(1),
	RunE:         runCrawler,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets version information for the CLI
func SetVersionInfo(v, bt string) {
	version = v
	buildTime = bt
	rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./oppcrawl.yml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("log-format", "json", "Log format: json or text")
	rootCmd.PersistentFlags().String("log-file", "", "Also write logs to this size-rotated file")
	rootCmd.PersistentFlags().StringP("database", "d", "", "SQLite checkpoint database (empty disables checkpoints)")

	rootCmd.Flags().Bool("show-config", false, "Display current configuration in YAML format and exit")

	// Run sizing
	rootCmd.Flags().IntP("capacity", "n", 0, "Stop after N new listing stubs (0=unlimited)")
	rootCmd.Flags().Int("start-page", 0, "Listing page to start from (0-based)")
	rootCmd.Flags().String("status", "", "Status or category filter value for the listing")
	rootCmd.Flags().Bool("resume", false, "Continue from the checkpoint database")

	// Pacing
	rootCmd.Flags().IntP("concurrency", "c", 2, "Concurrent detail pages (1-3)")
	rootCmd.Flags().DurationP("delay", "r", time.Second, "Delay between detail fetches")
	rootCmd.Flags().DurationP("timeout", "t", 45*time.Second, "Navigation timeout")
	rootCmd.Flags().StringP("user-agent", "u", "oppcrawl/1.0", "User-Agent for the browser and HTTP requests")
	rootCmd.Flags().Bool("respect-robots", true, "Honour robots.txt rules on detail pages")
	rootCmd.Flags().Bool("headless", true, "Run Chrome without a window")

	// Extraction
	rootCmd.Flags().String("ai-provider", "anthropic", "Inference backend: anthropic, openai or none")
	rootCmd.Flags().String("ai-model", "", "Model name (backend default when empty)")

	// Delivery
	rootCmd.Flags().String("sink-url", "", "Webhook URL receiving record batches")
	rootCmd.Flags().String("tenant", "", "Tenant id placed in every envelope")
	rootCmd.Flags().Int("batch-size", 20, "Records per delivered batch")

	rootCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address during the run")

	bindFlags := []struct {
		viperKey string
		flagName string
	}{
		{"log.level", "log-level"},
		{"log.format", "log-format"},
		{"log.file_path", "log-file"},
		{"state.database_path", "database"},
		{"capacity", "capacity"},
		{"start_page", "start-page"},
		{"site.status", "status"},
		{"state.resume", "resume"},
		{"concurrency", "concurrency"},
		{"request_delay", "delay"},
		{"nav_timeout", "timeout"},
		{"user_agent", "user-agent"},
		{"respect_robots", "respect-robots"},
		{"headless", "headless"},
		{"ai.provider", "ai-provider"},
		{"ai.model", "ai-model"},
		{"sink.url", "sink-url"},
		{"sink.tenant_id", "tenant"},
		{"sink.batch_size", "batch-size"},
		{"metrics_addr", "metrics-addr"},
	}

	for _, bind := range bindFlags {
		flag := rootCmd.Flags().Lookup(bind.flagName)
		if flag == nil {
			flag = rootCmd.PersistentFlags().Lookup(bind.flagName)
		}
		if err := viper.BindPFlag(bind.viperKey, flag); err != nil {
			// Log the error but continue - non-critical for operation
			fmt.Fprintf(os.Stderr, "Warning: failed to bind flag %s: %v\n", bind.flagName, err)
		}
	}

	rootCmd.AddCommand(newSinkCmd(), newStateCmd())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	// A missing .env is the normal case
	if err := godotenv.Load(); err == nil {
		fmt.Fprintf(os.Stderr, "Loaded environment from .env\n")
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("oppcrawl")
	}

	viper.SetEnvPrefix("OC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	registerDefaults(viper.GetViper(), config.DefaultConfig())

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// registerDefaults makes every configuration key known to v so that
// AutomaticEnv can override nested keys that have no flag.
func registerDefaults(v *viper.Viper, cfg *config.CrawlConfig) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return
	}
	setDefaults(v, "", tree)
}

func setDefaults(v *viper.Viper, prefix string, tree map[string]any) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok && len(sub) > 0 {
			setDefaults(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

// loadConfig merges defaults, the config file, environment and flags
func loadConfig(args []string) (*config.CrawlConfig, error) {
	cfg := config.DefaultConfig()

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(args) > 0 {
		cfg.Site.ListingURL = args[0]
	}

	if cfg.UserAgent == "oppcrawl/1.0" {
		cfg.UserAgent = generateUserAgent()
	}

	return cfg, nil
}

func generateUserAgent() string {
	if version != "" && version != "dev" {
		return fmt.Sprintf("oppcrawl/%s", version)
	}
	return "oppcrawl/dev"
}

// setupLogging installs the default slog logger described by cfg
func setupLogging(cfg config.LogConfig) (io.Closer, error) {
	return logging.SetDefault(logging.Config{
		Level:      logging.ParseLevel(cfg.Level),
		Format:     cfg.Format,
		FilePath:   cfg.FilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Console:    true,
	})
}

func showCurrentConfig(w io.Writer, cfg *config.CrawlConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Configuration validation failed: %v\n", err)
		fmt.Fprintf(os.Stderr, "Displaying configuration anyway...\n\n")
	}

	// Secrets are shown by their environment variable only
	shown := *cfg
	shown.AI.APIKey = ""
	shown.Sink.Token = ""

	yamlData, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration to YAML: %w", err)
	}

	fmt.Fprintf(w, "# Current oppcrawl configuration\n")
	fmt.Fprintf(w, "# Generated at: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(w, "# Configuration file search paths: ./oppcrawl.yml\n")
	fmt.Fprintf(w, "# Environment variables prefix: OC_\n\n")

	fmt.Fprint(w, string(yamlData))

	fmt.Fprintf(w, "\n# Configuration source priority:\n")
	fmt.Fprintf(w, "# 1. Command-line arguments (highest priority)\n")
	fmt.Fprintf(w, "# 2. Environment variables (OC_ prefix, .env is loaded first)\n")
	fmt.Fprintf(w, "# 3. Configuration file (oppcrawl.yml)\n")
	fmt.Fprintf(w, "# 4. Default values (lowest priority)\n")

	return nil
}
