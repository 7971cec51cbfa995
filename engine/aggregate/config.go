package aggregate

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fuad-ontik/Prime-Bank-Backend/engine/classify"
	"github.com/fuad-ontik/Prime-Bank-Backend/engine/domain"
)

// Config tunes the derived views. Every field has a default; a YAML file only
// needs the keys it overrides.
type Config struct {
	DefaultBank string            `yaml:"default_bank"`
	Banks       []domain.BankSpec `yaml:"banks"`
	KPI         KPIConfig         `yaml:"kpi"`
	Actions     ActionConfig      `yaml:"actions"`
	Geo         GeoConfig         `yaml:"geo"`
	Pass        PassConfig        `yaml:"pass"`
	Classifier  classify.Rules    `yaml:"classifier"`
}

// KPIConfig weights virality by sentiment for engagement_weighted_sentiment.
type KPIConfig struct {
	SentimentWeights map[domain.Sentiment]float64 `yaml:"sentiment_weights"`
}

// ActionConfig drives action item derivation. Urgency is the sum of the label
// weights plus ViralityWeight scaled by min(virality/ViralityCap, 1), clamped
// to [0, 1].
type ActionConfig struct {
	Lookback         time.Duration                `yaml:"lookback"`
	UrgencyThreshold float64                      `yaml:"urgency_threshold"`
	SentimentWeights map[domain.Sentiment]float64 `yaml:"sentiment_weights"`
	EmotionWeights   map[domain.Emotion]float64   `yaml:"emotion_weights"`
	CategoryWeights  map[domain.Category]float64  `yaml:"category_weights"`
	ViralityWeight   float64                      `yaml:"virality_weight"`
	ViralityCap      float64                      `yaml:"virality_cap"`
}

// Geo granularities.
const (
	GranularityCity     = "city"
	GranularityDivision = "division"
)

type GeoConfig struct {
	Granularity string `yaml:"granularity"`
}

// PassConfig holds the defaults for PassOptions fields left at zero.
type PassConfig struct {
	BatchSize int `yaml:"batch_size"`
	Workers   int `yaml:"workers"`
}

func DefaultConfig() Config {
	return Config{
		DefaultBank: "prime_bank",
		KPI: KPIConfig{
			SentimentWeights: map[domain.Sentiment]float64{
				domain.SentimentPositive: 1,
				domain.SentimentNeutral:  0,
				domain.SentimentNegative: -1,
			},
		},
		Actions: ActionConfig{
			Lookback:         30 * 24 * time.Hour,
			UrgencyThreshold: 0.5,
			SentimentWeights: map[domain.Sentiment]float64{
				domain.SentimentNegative: 0.4,
				domain.SentimentNeutral:  0.15,
			},
			EmotionWeights: map[domain.Emotion]float64{
				domain.EmotionFrustration: 0.3,
				domain.EmotionConfusion:   0.15,
			},
			CategoryWeights: map[domain.Category]float64{
				domain.CategoryComplaint: 0.1,
				domain.CategoryInquiry:   0.05,
			},
			ViralityWeight: 0.2,
			ViralityCap:    100,
		},
		Geo:  GeoConfig{Granularity: GranularityCity},
		Pass: PassConfig{BatchSize: 500, Workers: 4},
	}
}

// LoadConfig reads a YAML file over DefaultConfig. An empty path returns the
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the values a YAML override could get wrong.
func (c Config) Validate() error {
	switch c.Geo.Granularity {
	case GranularityCity, GranularityDivision:
	default:
		return domain.NewValidationError("geo.granularity", c.Geo.Granularity, domain.ErrOutOfRange)
	}
	if c.Actions.UrgencyThreshold < 0 || c.Actions.UrgencyThreshold > 1 {
		return domain.NewValidationError("actions.urgency_threshold", fmt.Sprint(c.Actions.UrgencyThreshold), domain.ErrOutOfRange)
	}
	if c.Actions.Lookback < 0 {
		return domain.NewValidationError("actions.lookback", c.Actions.Lookback.String(), domain.ErrOutOfRange)
	}
	return nil
}

// Registry builds the bank registry, falling back to domain.DefaultBanks.
func (c Config) Registry() (*domain.Registry, error) {
	specs := c.Banks
	if len(specs) == 0 {
		specs = domain.DefaultBanks
	}
	reg, err := domain.NewRegistry(specs)
	if err != nil {
		return nil, err
	}
	if c.DefaultBank != "" {
		if err := reg.Check(c.DefaultBank); err != nil {
			return nil, fmt.Errorf("default_bank: %w", err)
		}
	}
	return reg, nil
}
