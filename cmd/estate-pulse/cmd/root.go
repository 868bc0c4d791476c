package cmd

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mfenderov/estate-pulse/internal/config"
)

var (
	cfgFile string
	verbose bool
	cfg     config.Config
)

// GetConfig returns the loaded configuration.
func GetConfig() config.Config {
	return cfg
}

var rootCmd = &cobra.Command{
	Use:   "estate-pulse",
	Short: "Estate Pulse: real-estate news sentiment pipeline",
	Long: `Estate Pulse discovers real-estate news, extracts per-market sentiment
with a language model, indexes article text for semantic search and raises
alerts when a market's sentiment shifts unusually.

Commands:
  ingest   Process specific article URLs
  run      Run one discovery and ingestion pass
  serve    Run the scheduler, metrics endpoint and MCP server
  search   Semantic search over ingested articles
  alerts   List or acknowledge sentiment shift alerts
  markets  List markets and their sentiment trends
  archive  Browse archived articles in object storage`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return cfg.Validate()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig, initLogger)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}

func initLogger() {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	// stdout carries command output and the MCP stdio stream.
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func initConfig() {
	// Start with defaults
	cfg = config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/estate-pulse")
		viper.AddConfigPath(".")
	}

	// ESTATEPULSE_DATABASE_DSN -> database.dsn
	viper.SetEnvPrefix("ESTATEPULSE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// AutomaticEnv only sees keys viper already knows, so bind the ones
	// usually supplied through the environment.
	for _, key := range []string{
		"log.level",
		"log.format",
		"database.dsn",
		"elasticsearch.index",
		"elasticsearch.username",
		"elasticsearch.password",
		"embeddings.base_url",
		"embeddings.socket_path",
		"embeddings.api_key",
		"embeddings.model",
		"llm.base_url",
		"llm.socket_path",
		"llm.api_key",
		"llm.model",
		"discovery.newsapi_key",
		"cache.dir",
		"scheduler.enabled",
		"scheduler.interval",
		"storage.enabled",
		"storage.endpoint",
		"storage.access_key_id",
		"storage.secret_access_key",
		"kafka.topic",
		"redis.addr",
		"redis.password",
		"metrics.addr",
	} {
		viper.BindEnv(key, "ESTATEPULSE_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("config file error", "error", err)
		}
		// No config file - use defaults + env vars
	}

	// Unmarshal into struct (merges config file with defaults)
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Warn("failed to parse config", "error", err)
	}

	// List values arrive from the environment as comma-separated strings.
	if addrs := os.Getenv("ESTATEPULSE_ELASTICSEARCH_ADDRESSES"); addrs != "" {
		cfg.Elasticsearch.Addresses = strings.Split(addrs, ",")
	}
	if brokers := os.Getenv("ESTATEPULSE_KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
}
