package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/sejmbot/detektor/internal/model"
)

// providerEnv maps conventional environment variables onto provider settings
var providerEnv = []struct {
	provider string
	env      string
	baseURL  bool
}{
	{provider: "openai", env: "OPENAI_API_KEY"},
	{provider: "anthropic", env: "ANTHROPIC_API_KEY"},
	{provider: "gemini", env: "GEMINI_API_KEY"},
	{provider: "gemini", env: "GOOGLE_API_KEY"},
	{provider: "ollama", env: "OLLAMA_BASE_URL", baseURL: true},
}

// loadConfig merges defaults, the config file, SEJMBOT_* variables and
// flags into a validated configuration
func loadConfig(v *viper.Viper) (model.Config, error) {
	cfg := model.DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", model.ErrConfiguration, err)
	}
	cfg.ApplyDefaults()
	applyProviderEnv(&cfg)

	if v.GetBool("verbose") {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyProviderEnv fills provider keys and URLs the config left empty
func applyProviderEnv(cfg *model.Config) {
	for _, pe := range providerEnv {
		val := os.Getenv(pe.env)
		if val == "" {
			continue
		}
		pc := cfg.Providers.Settings[pe.provider]
		switch {
		case pe.baseURL && pc.BaseURL == "":
			pc.BaseURL = val
		case !pe.baseURL && pc.APIKey == "":
			pc.APIKey = val
		}
		cfg.Providers.Settings[pe.provider] = pc
	}
}

// redacted returns a copy of cfg with API keys masked for display
func redacted(cfg model.Config) model.Config {
	settings := make(map[string]model.ProviderConfig, len(cfg.Providers.Settings))
	for name, pc := range cfg.Providers.Settings {
		if pc.APIKey != "" {
			pc.APIKey = "***"
		}
		settings[name] = pc
	}
	cfg.Providers.Settings = settings
	return cfg
}

func defaultConfigPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error finding home directory: %w", err)
	}
	return filepath.Join(home, ".sejmbot", "config.yaml"), nil
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage sejmbot configuration",
	Long: `Manage sejmbot configuration files and settings.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (SEJMBOT_*, OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY, OLLAMA_BASE_URL)
3. Config file (~/.sejmbot/config.yaml)
4. Defaults`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration after merging defaults, config file, environment variables and flags. API keys are masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}

		if configFile := viper.ConfigFileUsed(); configFile != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Configuration file: %s\n\n", configFile)
		} else {
			fmt.Fprintf(cmd.ErrOrStderr(), "No configuration file found (using defaults)\n\n")
		}

		yamlData, err := yaml.Marshal(redacted(cfg))
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(yamlData)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize default configuration file",
	Long:  `Create a default configuration file at ~/.sejmbot/config.yaml (or --config) with every option set to its default.`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		configPath, err := defaultConfigPath()
		if err != nil {
			return err
		}

		// Check if config already exists
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config file already exists: %s\nUse 'sejmbot config show' to view it, or delete it first to recreate", configPath)
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("error creating config directory: %w", err)
		}

		f, err := os.Create(configPath)
		if err != nil {
			return fmt.Errorf("error creating config file: %w", err)
		}
		defer func() {
			if closeErr := f.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("close config file: %w", closeErr)
			}
		}()

		// Helper for writing with error checking
		printf := func(format string, a ...any) {
			if err != nil {
				return
			}
			_, err = fmt.Fprintf(f, format, a...)
		}

		printf("# sejmbot configuration\n")
		printf("#\n")
		printf("# Configuration hierarchy (highest to lowest priority):\n")
		printf("#   1. CLI flags\n")
		printf("#   2. Environment variables (SEJMBOT_*, e.g. SEJMBOT_CACHE_BACKEND=sqlite)\n")
		printf("#   3. This config file\n")
		printf("#   4. Built-in defaults\n")
		printf("#\n")
		printf("# Durations are nanoseconds or Go duration strings (\"1s\", \"250ms\").\n\n")

		yamlData, mErr := yaml.Marshal(model.DefaultConfig())
		if mErr != nil {
			return fmt.Errorf("error marshaling config: %w", mErr)
		}
		if err == nil {
			_, err = f.Write(yamlData)
		}

		printf("\n# API keys (recommended to use environment variables instead):\n")
		printf("#   export OPENAI_API_KEY=sk-...\n")
		printf("#   export ANTHROPIC_API_KEY=sk-ant-...\n")
		printf("#   export GEMINI_API_KEY=...\n")
		printf("#   export OLLAMA_BASE_URL=http://localhost:11434\n")

		if err != nil {
			return fmt.Errorf("error writing config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Created default configuration: %s\n", configPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
