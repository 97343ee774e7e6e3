package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Config is the full runtime configuration. It is built once per run and
// treated as read-only afterwards.
type Config struct {
	Keywords    KeywordsConfig    `yaml:"keywords" mapstructure:"keywords"`
	Scoring     ScoringConfig     `yaml:"scoring" mapstructure:"scoring"`
	Extraction  ExtractionConfig  `yaml:"extraction" mapstructure:"extraction"`
	Selection   SelectionConfig   `yaml:"selection" mapstructure:"selection"`
	Providers   ProvidersConfig   `yaml:"providers" mapstructure:"providers"`
	Retry       RetryConfig       `yaml:"retry" mapstructure:"retry"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Concurrency ConcurrencyConfig `yaml:"concurrency" mapstructure:"concurrency"`
	Logging     LoggingConfig     `yaml:"logging" mapstructure:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics" mapstructure:"metrics"`
}

// KeywordsConfig overrides the built-in keyword table.
// Empty Weights and Exclude mean "use the built-in lists".
type KeywordsConfig struct {
	Weights          map[string]int `yaml:"weights,omitempty" mapstructure:"weights" validate:"dive,keys,required,endkeys,min=1,max=3"`
	Exclude          []string       `yaml:"exclude,omitempty" mapstructure:"exclude" validate:"dive,required"`
	PrioritySpeakers []string       `yaml:"prioritySpeakers,omitempty" mapstructure:"prioritySpeakers"`
	File             string         `yaml:"file,omitempty" mapstructure:"file"` // YAML or JSON keyword table
}

// ScoringConfig holds the constants of the confidence function
type ScoringConfig struct {
	DiversityBonus     float64 `yaml:"diversityBonus" mapstructure:"diversityBonus" validate:"gte=0"`
	DiversityCap       float64 `yaml:"diversityCap" mapstructure:"diversityCap" validate:"gte=0"`
	MinWords           int     `yaml:"minWords" mapstructure:"minWords" validate:"gte=0"`
	LengthBonusPerWord float64 `yaml:"lengthBonusPerWord" mapstructure:"lengthBonusPerWord" validate:"gte=0"`
	LengthBonusCap     float64 `yaml:"lengthBonusCap" mapstructure:"lengthBonusCap" validate:"gte=0"`
	PriorityBonus      float64 `yaml:"priorityBonus" mapstructure:"priorityBonus" validate:"gte=0"`
	Saturation         float64 `yaml:"saturation" mapstructure:"saturation" validate:"gt=0"`
}

// ExtractionConfig controls context windows and statement filtering
type ExtractionConfig struct {
	ContextBefore     int `yaml:"contextBefore" mapstructure:"contextBefore" validate:"gt=0"`
	ContextAfter      int `yaml:"contextAfter" mapstructure:"contextAfter" validate:"gt=0"`
	MaxSegmentChars   int `yaml:"maxSegmentChars" mapstructure:"maxSegmentChars" validate:"gt=0"`
	MinStatementChars int `yaml:"minStatementChars" mapstructure:"minStatementChars" validate:"gte=0"`
}

// SelectionConfig is the selection policy. Zero disables a rule.
// Rules combine as: per-source cap, then confidence floor, then near
// duplicate suppression, then a global count of min(TopN, ceil(TopFraction*pool)).
type SelectionConfig struct {
	TopN                int     `yaml:"topN" mapstructure:"topN" validate:"gte=0"`
	TopFraction         float64 `yaml:"topFraction" mapstructure:"topFraction" validate:"gte=0,lte=1"`
	MinConfidence       float64 `yaml:"minConfidence" mapstructure:"minConfidence" validate:"gte=0,lte=1"`
	MaxPerSource        int     `yaml:"maxPerSource" mapstructure:"maxPerSource" validate:"gte=0"`
	SimilarityThreshold float64 `yaml:"similarityThreshold" mapstructure:"similarityThreshold" validate:"gte=0,lte=1"`
}

// ProvidersConfig lists providers in fallback order
type ProvidersConfig struct {
	Order          []string                  `yaml:"order" mapstructure:"order" validate:"dive,oneof=openai anthropic claude gemini google ollama"`
	MaxPromptChars int                       `yaml:"maxPromptChars" mapstructure:"maxPromptChars" validate:"gte=0"`
	Settings       map[string]ProviderConfig `yaml:"settings" mapstructure:"settings" validate:"dive"`
}

// ProviderConfig configures one provider
type ProviderConfig struct {
	Model         string  `yaml:"model,omitempty" mapstructure:"model"`
	APIKey        string  `yaml:"apiKey,omitempty" mapstructure:"apiKey"`
	BaseURL       string  `yaml:"baseURL,omitempty" mapstructure:"baseURL" validate:"omitempty,url"`
	Timeout       int     `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"` // seconds
	RatePerMinute float64 `yaml:"ratePerMinute" mapstructure:"ratePerMinute" validate:"gt=0"`
	Burst         int     `yaml:"burst" mapstructure:"burst" validate:"gte=0"`
	MaxTokens     int     `yaml:"maxTokens" mapstructure:"maxTokens" validate:"gte=0"`

	// Proxy settings
	HTTPProxy  string `yaml:"httpProxy,omitempty" mapstructure:"httpProxy"`
	HTTPSProxy string `yaml:"httpsProxy,omitempty" mapstructure:"httpsProxy"`
}

// RetryConfig is the per-provider retry policy
type RetryConfig struct {
	MaxAttempts int           `yaml:"maxAttempts" mapstructure:"maxAttempts" validate:"gt=0"`
	BaseBackoff time.Duration `yaml:"baseBackoff" mapstructure:"baseBackoff" validate:"gte=0"`
	MaxBackoff  time.Duration `yaml:"maxBackoff" mapstructure:"maxBackoff" validate:"gte=0"`
	Jitter      time.Duration `yaml:"jitter" mapstructure:"jitter" validate:"gte=0"`
}

// CacheConfig controls the persistent evaluation cache
type CacheConfig struct {
	Backend       string        `yaml:"backend" mapstructure:"backend" validate:"oneof=json sqlite memory"`
	Path          string        `yaml:"path" mapstructure:"path"`
	FlushEvery    int           `yaml:"flushEvery" mapstructure:"flushEvery" validate:"gte=0"`
	FlushInterval time.Duration `yaml:"flushInterval" mapstructure:"flushInterval" validate:"gte=0"`
}

// ConcurrencyConfig bounds parallelism. Workers=1 means sequential evaluation.
type ConcurrencyConfig struct {
	Workers         int `yaml:"workers" mapstructure:"workers" validate:"gte=1,lte=16"`
	AnalysisWorkers int `yaml:"analysisWorkers" mapstructure:"analysisWorkers" validate:"gte=1"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=text json"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty" mapstructure:"addr"` // empty disables the /metrics endpoint
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Scoring: ScoringConfig{
			DiversityBonus:     0.5,
			DiversityCap:       3.0,
			MinWords:           30,
			LengthBonusPerWord: 0.05,
			LengthBonusCap:     1.5,
			PriorityBonus:      1.0,
			Saturation:         8.0,
		},
		Extraction: ExtractionConfig{
			ContextBefore:     50,
			ContextAfter:      100,
			MaxSegmentChars:   500,
			MinStatementChars: 20,
		},
		Selection: SelectionConfig{
			TopFraction:         0.33,
			SimilarityThreshold: 0.85,
		},
		Providers: ProvidersConfig{
			Order:          []string{"ollama", "gemini"},
			MaxPromptChars: 800,
			Settings: map[string]ProviderConfig{
				"ollama":    {Model: "llama3.1:8b", Timeout: 60, RatePerMinute: 1000, MaxTokens: 200},
				"gemini":    {Model: "gemini-2.0-flash", Timeout: 30, RatePerMinute: 60, MaxTokens: 150},
				"openai":    {Model: "gpt-4o-mini", Timeout: 30, RatePerMinute: 50, MaxTokens: 150},
				"anthropic": {Model: "claude-3-5-haiku-latest", Timeout: 30, RatePerMinute: 40, MaxTokens: 150},
			},
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseBackoff: time.Second,
			MaxBackoff:  30 * time.Second,
			Jitter:      250 * time.Millisecond,
		},
		Cache: CacheConfig{
			Backend:       "json",
			Path:          "cache/evaluations.json",
			FlushEvery:    10,
			FlushInterval: time.Minute,
		},
		Concurrency: ConcurrencyConfig{
			Workers:         1,
			AnalysisWorkers: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ApplyDefaults fills provider fields a partial config file left at zero
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig().Providers.Settings
	if c.Providers.Settings == nil {
		c.Providers.Settings = make(map[string]ProviderConfig, len(defaults))
	}
	for name, def := range defaults {
		pc := c.Providers.Settings[name]
		if pc.Model == "" {
			pc.Model = def.Model
		}
		if pc.Timeout == 0 {
			pc.Timeout = def.Timeout
		}
		if pc.RatePerMinute == 0 {
			pc.RatePerMinute = def.RatePerMinute
		}
		if pc.MaxTokens == 0 {
			pc.MaxTokens = def.MaxTokens
		}
		c.Providers.Settings[name] = pc
	}
}

// CanonicalProvider maps provider aliases onto their canonical name
func CanonicalProvider(name string) string {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "claude":
		return "anthropic"
	case "google":
		return "gemini"
	default:
		return n
	}
}

// Provider returns the settings for a provider, accepting aliases
func (c Config) Provider(name string) ProviderConfig {
	return c.Providers.Settings[CanonicalProvider(name)]
}

// FoldKeyword brings a keyword or exclude phrase into the form statement
// text is matched in: NFC, Polish lowercase, single spaces.
func FoldKeyword(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return cases.Lower(language.Polish).String(norm.NFC.String(s))
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration before any processing starts.
// Every violation is reported wrapped in ErrConfiguration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %s", ErrConfiguration, describeValidation(err))
	}

	keywords := make(map[string]bool, len(c.Keywords.Weights))
	for phrase := range c.Keywords.Weights {
		keywords[FoldKeyword(phrase)] = true
	}
	for _, phrase := range c.Keywords.Exclude {
		if keywords[FoldKeyword(phrase)] {
			return fmt.Errorf("%w: %q is both a keyword and an exclude phrase", ErrConfiguration, phrase)
		}
	}

	if len(c.Providers.Order) == 0 {
		return fmt.Errorf("%w: providers.order must name at least one provider", ErrConfiguration)
	}
	seen := make(map[string]bool, len(c.Providers.Order))
	for _, name := range c.Providers.Order {
		canonical := CanonicalProvider(name)
		if seen[canonical] {
			return fmt.Errorf("%w: provider %q listed twice", ErrConfiguration, name)
		}
		seen[canonical] = true
		if c.Provider(name).RatePerMinute <= 0 {
			return fmt.Errorf("%w: provider %q needs a positive ratePerMinute", ErrConfiguration, name)
		}
	}

	if c.Retry.MaxBackoff > 0 && c.Retry.MaxBackoff < c.Retry.BaseBackoff {
		return fmt.Errorf("%w: retry.maxBackoff is smaller than retry.baseBackoff", ErrConfiguration)
	}
	if c.Cache.Backend != "memory" && c.Cache.Path == "" {
		return fmt.Errorf("%w: cache.path is required for the %s backend", ErrConfiguration, c.Cache.Backend)
	}

	return nil
}

func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fe.Namespace() + " failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return strings.Join(msgs, "; ")
}
