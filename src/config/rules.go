package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Rules holds the tunable thresholds and limits of the processing pipeline.
type Rules struct {
	Thresholds ThresholdRules  `yaml:"thresholds"`
	Validation ValidationRules `yaml:"validation"`
	Limits     BatchLimits     `yaml:"limits"`
	Classifier ClassifierRules `yaml:"classifier"`
	Retry      RetryRules      `yaml:"retry"`
}

type ThresholdRules struct {
	Confirmed   float64 `yaml:"confirmed"`   // Consolidation confidence marking an operation confirmed
	Ready       float64 `yaml:"ready"`       // Consolidation confidence marking an operation ready for creation
	Integration float64 `yaml:"integration"` // Minimum confidence for a ready operation to be integrated
}

type ValidationRules struct {
	ValueTolerance     float64 `yaml:"value_tolerance"`      // |qty*price - total| allowed
	MinUnitPrice       float64 `yaml:"min_unit_price"`
	MaxAgeYears        int     `yaml:"max_age_years"`
	PriceSpreadWarning float64 `yaml:"price_spread_warning"` // (max-min)/min within an asset
	DuplicatePriceDiff float64 `yaml:"duplicate_price_diff"` // Price delta treated as the same trade
}

type BatchLimits struct {
	MaxInvoicesPerBatch  int     `yaml:"max_invoices_per_batch"`
	MaxItemsPerBatch     int     `yaml:"max_items_per_batch"`
	MaxItemsPerInvoice   int     `yaml:"max_items_per_invoice"`
	MaxBatchValue        float64 `yaml:"max_batch_value"`
	MaxConcurrentPerUser int     `yaml:"max_concurrent_per_user"`
}

type ClassifierRules struct {
	DayTradeMarkers []string `yaml:"day_trade_markers"`
	SameDaySignal   bool     `yaml:"same_day_signal"`
}

type RetryRules struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// DefaultRules returns the built-in processing rules.
func DefaultRules() Rules {
	return Rules{
		Thresholds: ThresholdRules{
			Confirmed:   0.8,
			Ready:       0.6,
			Integration: 0.8,
		},
		Validation: ValidationRules{
			ValueTolerance:     0.05,
			MinUnitPrice:       0.01,
			MaxAgeYears:        5,
			PriceSpreadWarning: 0.5,
			DuplicatePriceDiff: 0.01,
		},
		Limits: BatchLimits{
			MaxInvoicesPerBatch:  50,
			MaxItemsPerBatch:     1000,
			MaxItemsPerInvoice:   200,
			MaxBatchValue:        10_000_000,
			MaxConcurrentPerUser: 1,
		},
		Classifier: ClassifierRules{
			DayTradeMarkers: []string{"D", "DT", "DAY TRADE", "DAYTRADE"},
			SameDaySignal:   true,
		},
		Retry: RetryRules{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    5 * time.Second,
		},
	}
}

// LoadRules reads the YAML file at path over DefaultRules. An empty path or a
// missing file yields the defaults.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return rules, nil
		}
		return rules, fmt.Errorf("read rules file: %w", err)
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return rules, fmt.Errorf("parse rules file: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return rules, err
	}
	return rules, nil
}

// Validate rejects rule sets that would make the pipeline misbehave.
func (r Rules) Validate() error {
	if r.Thresholds.Ready > r.Thresholds.Confirmed {
		return fmt.Errorf("ready threshold %.2f exceeds confirmed threshold %.2f", r.Thresholds.Ready, r.Thresholds.Confirmed)
	}
	if r.Validation.ValueTolerance < 0 || r.Validation.DuplicatePriceDiff < 0 {
		return errors.New("tolerances must not be negative")
	}
	if r.Limits.MaxInvoicesPerBatch <= 0 || r.Limits.MaxItemsPerBatch <= 0 || r.Limits.MaxItemsPerInvoice <= 0 {
		return errors.New("batch limits must be positive")
	}
	if r.Retry.MaxAttempts <= 0 {
		return errors.New("retry max_attempts must be positive")
	}
	return nil
}

func (v ValidationRules) ValueToleranceDecimal() decimal.Decimal {
	return decimal.NewFromFloat(v.ValueTolerance)
}

func (v ValidationRules) MinUnitPriceDecimal() decimal.Decimal {
	return decimal.NewFromFloat(v.MinUnitPrice)
}

func (v ValidationRules) DuplicatePriceDiffDecimal() decimal.Decimal {
	return decimal.NewFromFloat(v.DuplicatePriceDiff)
}

func (l BatchLimits) MaxBatchValueDecimal() decimal.Decimal {
	return decimal.NewFromFloat(l.MaxBatchValue)
}
