// Package config loads the analyzer's YAML configuration file, the same
// koanf-based loader shape used throughout this stack, retargeted at
// the stream-analyzer schema.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Kafka describes the bus consumer: brokers, topics, and the
// consumer-group/client identity the bus client registers under.
type Kafka struct {
	Brokers        []string      `yaml:"brokers" mapstructure:"brokers"`
	Topics         []string      `yaml:"topics" mapstructure:"topics"`
	Group          string        `yaml:"group" mapstructure:"group"`
	ClientID       string        `yaml:"client_id" mapstructure:"client_id"`
	AckTimeout     time.Duration `yaml:"ack_timeout" mapstructure:"ack_timeout"`
	ConsumingDelay time.Duration `yaml:"consuming_delay" mapstructure:"consuming_delay"`
}

// Forwarder describes the emitter's executor targets and retry policy.
type Forwarder struct {
	BanTargetURLs []string      `yaml:"ban_target_urls" mapstructure:"ban_target_urls"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RetryCount    int           `yaml:"retry_count" mapstructure:"retry_count"`
	RetryInterval time.Duration `yaml:"retry_interval" mapstructure:"retry_interval"`
}

// Telemetry describes logging format and optional trace export.
type Telemetry struct {
	SvcName        string `yaml:"svc_name" mapstructure:"svc_name"`
	Format         string `yaml:"format" mapstructure:"format"` // full|compact|pretty|json
	JaegerEndpoint string `yaml:"jaeger_endpoint" mapstructure:"jaeger_endpoint"`
	// Exporter selects the OTel span exporter: otlp|stdout|none. Kept
	// separate from Format so the logging writer and the tracing
	// backend can be chosen independently.
	Exporter string `yaml:"exporter" mapstructure:"exporter"`
}

// BanRuleConfig is one tier of a detector's cascade, as read from YAML.
type BanRuleConfig struct {
	Limit         uint64        `yaml:"limit" mapstructure:"limit"`
	BanDuration   time.Duration `yaml:"ban_duration" mapstructure:"ban_duration"`
	ResetDuration time.Duration `yaml:"reset_duration" mapstructure:"reset_duration"`
}

// PatternConfig is one entry of an ip-cost detector's ordered cost table.
type PatternConfig struct {
	Method    *string `yaml:"method" mapstructure:"method"`
	PathRegex string  `yaml:"path_regex" mapstructure:"path_regex"`
	BodyRegex *string `yaml:"body_regex" mapstructure:"body_regex"`
	Cost      uint64  `yaml:"cost" mapstructure:"cost"`
}

// DummyConfig configures the smoke-test validator.
type DummyConfig struct {
	Idx         uint16         `mapstructure:"idx"`
	BanDuration *time.Duration `mapstructure:"ban_duration"`
}

// IPCounterConfig configures RequestsFromIP.
type IPCounterConfig struct {
	Limits         []BanRuleConfig `mapstructure:"limits"`
	BanDescription string          `mapstructure:"ban_description"`
}

// UACounterConfig configures RequestsFromUA.
type UACounterConfig struct {
	Limits         []BanRuleConfig `mapstructure:"limits"`
	Patterns       []string        `mapstructure:"patterns"`
	BanDescription string          `mapstructure:"ban_description"`
}

// IPCostConfig configures RequestsFromIPCost.
type IPCostConfig struct {
	Limits         []BanRuleConfig `mapstructure:"limits"`
	Patterns       []PatternConfig `mapstructure:"patterns"`
	DefaultCost    uint64          `mapstructure:"default_cost"`
	BanDescription string          `mapstructure:"ban_description"`
}

// ValidatorConfig is one tagged-union entry of the `validators` list.
// Exactly one of the four pointers is populated, matching whichever
// single key the YAML map for this entry carried.
type ValidatorConfig struct {
	Type      string
	Dummy     *DummyConfig
	IPCounter *IPCounterConfig
	UACounter *UACounterConfig
	IPCost    *IPCostConfig
}

const (
	validatorTypeDummy     = "dummy"
	validatorTypeIPCounter = "requests_from_ip_counter"
	validatorTypeUACounter = "requests_from_ua_counter"
	validatorTypeIPCost    = "requests_from_ip_cost"
)

// Config is the top-level analyzer configuration.
type Config struct {
	Kafka      Kafka
	AnalyzerID string
	Forwarder  Forwarder
	Telemetry  Telemetry
	Validators []ValidatorConfig
	DryRun     bool
}

var durationHook = mapstructure.ComposeDecodeHookFunc(
	mapstructure.StringToTimeDurationHookFunc(),
)

func decode(raw any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       durationHook,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// Load reads and parses the YAML config file at path. An empty path
// falls back to the ANALYZER_CONFIG env var, then a fixed default.
//
// The validators list is a tagged union in YAML (each entry is a
// single-key map whose key names the variant), so it is decoded by
// hand rather than through koanf's struct unmarshaler, which has no
// notion of tagged unions.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("ANALYZER_CONFIG")
	}
	if path == "" {
		path = "configs/analyzer.yaml"
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	var cfg Config
	if err := decode(k.Get("kafka"), &cfg.Kafka); err != nil {
		return nil, fmt.Errorf("decode kafka config: %w", err)
	}
	cfg.AnalyzerID = k.String("analyzer_id")
	if err := decode(k.Get("forwarder"), &cfg.Forwarder); err != nil {
		return nil, fmt.Errorf("decode forwarder config: %w", err)
	}
	if err := decode(k.Get("telemetry"), &cfg.Telemetry); err != nil {
		return nil, fmt.Errorf("decode telemetry config: %w", err)
	}
	cfg.DryRun = k.Bool("dry_run")

	rawValidators, _ := k.Get("validators").([]any)
	validators := make([]ValidatorConfig, 0, len(rawValidators))
	for i, rv := range rawValidators {
		entry, ok := rv.(map[string]any)
		if !ok || len(entry) != 1 {
			return nil, fmt.Errorf("validators[%d]: expected a single-key tagged variant", i)
		}
		for typ, body := range entry {
			vc, err := decodeValidator(typ, body)
			if err != nil {
				return nil, fmt.Errorf("validators[%d] (%s): %w", i, typ, err)
			}
			validators = append(validators, vc)
		}
	}
	cfg.Validators = validators

	return &cfg, nil
}

func decodeValidator(typ string, body any) (ValidatorConfig, error) {
	vc := ValidatorConfig{Type: typ}
	switch typ {
	case validatorTypeDummy:
		var d DummyConfig
		if err := decode(body, &d); err != nil {
			return vc, err
		}
		vc.Dummy = &d
	case validatorTypeIPCounter:
		var c IPCounterConfig
		if err := decode(body, &c); err != nil {
			return vc, err
		}
		vc.IPCounter = &c
	case validatorTypeUACounter:
		var c UACounterConfig
		if err := decode(body, &c); err != nil {
			return vc, err
		}
		vc.UACounter = &c
	case validatorTypeIPCost:
		var c IPCostConfig
		if err := decode(body, &c); err != nil {
			return vc, err
		}
		vc.IPCost = &c
	default:
		return vc, fmt.Errorf("unknown validator type %q", typ)
	}
	return vc, nil
}

// MustEnv returns the environment variable's value, or def if unset.
func MustEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
