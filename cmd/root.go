package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "strand",
	Short: "Conversation streaming core",
	Long: `strand is the event-sourced conversation core extracted as a
standalone service: it runs assistant turns against a model provider,
records every step as ordered domain events, and serves commands,
projections, and a live event feed over HTTP.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./strand.yaml)")

	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level")
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().String("addr", ":8844", "HTTP listen address")
	viper.BindPFlag("server.addr", rootCmd.PersistentFlags().Lookup("addr"))

	rootCmd.PersistentFlags().String("db", "strand.db", "sqlite database path")
	viper.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))

	viper.SetDefault("provider", "ollama")

	viper.SetDefault("ollama.url", "http://localhost:11434")
	viper.SetDefault("ollama.default_model", "qwen3:latest")
	viper.SetDefault("ollama.timeout", 90)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.log_file", "")

	viper.SetDefault("tools.enabled", true)
	viper.SetDefault("tools.auto_confirm", false)
	viper.SetDefault("tools.max_rounds", 10)

	viper.SetDefault("retrieval.enabled", false)
	viper.SetDefault("retrieval.persist_dir", "")
	viper.SetDefault("retrieval.collection", "documents")
	viper.SetDefault("retrieval.top_k", 4)
	viper.SetDefault("retrieval.embedder.model", "nomic-embed-text")
	viper.SetDefault("retrieval.embedder.base_url", "http://localhost:11434")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("strand")
	}

	viper.SetEnvPrefix("STRAND")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}
