package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/mathbench/internal/llm"
	"github.com/pavelanni/mathbench/internal/store"
)

//go:generate templ generate -path ../../internal/handler/views

func main() {
	// Credentials may live in a local .env file; a missing file is fine.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mathbench",
		Short: "Benchmark vision LLMs as math tutors on TIMSS questions",
	}
	root.AddCommand(
		runCmd(),
		gradeCmd(),
		fullCmd(),
		planCmd(),
		listCmd(),
		exportCmd(),
		serveCmd(),
	)
	return root
}

func addLogFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("MATHBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("mathbench")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/mathbench")
	v.AddConfigPath("/etc/mathbench")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// credentials reads API keys from the process environment. Endpoint
// overrides come from flags so they can also be set in the config file.
func credentials(v *viper.Viper) llm.Credentials {
	hf := os.Getenv("HUGGINGFACE_TOKEN")
	if hf == "" {
		hf = os.Getenv("Huggingface_API_KEY")
	}
	return llm.Credentials{
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		AnthropicKey:     os.Getenv("ANTHROPIC_API_KEY"),
		GoogleKey:        os.Getenv("GOOGLE_API_KEY"),
		HuggingFaceToken: hf,
		OpenAIBaseURL:    v.GetString("openai-base-url"),
		AnthropicBaseURL: v.GetString("anthropic-base-url"),
		LocalRuntimeURL:  v.GetString("local-url"),
	}
}

// openStore opens the result index, or returns nil when no path is set.
func openStore(path string) (*store.Store, error) {
	if path == "" {
		return nil, nil
	}
	db, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// splitList flattens flag values that may be repeated, comma-separated or
// space-separated into one list.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		out = append(out, strings.FieldsFunc(v, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})...)
	}
	return out
}
