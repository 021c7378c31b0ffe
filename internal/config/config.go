package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	droerrors "github.com/systmms/drops/internal/errors"
	"github.com/systmms/drops/internal/logging"
	"gopkg.in/yaml.v3"
)

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition
}

// Definition represents the drops.yaml structure
type Definition struct {
	Version       int                    `yaml:"version" json:"version"`
	Pairs         map[string]Pair        `yaml:"pairs" json:"pairs"`
	Orchestrator  OrchestratorSettings   `yaml:"orchestrator,omitempty" json:"orchestrator,omitempty"`
	Notifications []NotificationTarget   `yaml:"notifications,omitempty" json:"notifications,omitempty"`
	Storage       StorageSettings        `yaml:"storage,omitempty" json:"storage,omitempty"`
}

// Pair describes a primary environment and its recovery counterpart
type Pair struct {
	Primary   Environment `yaml:"primary" json:"primary"`
	Recovery  Environment `yaml:"recovery" json:"recovery"`
	Service   string      `yaml:"service" json:"service"`
	Image     string      `yaml:"image,omitempty" json:"image,omitempty"`
	Port      int32       `yaml:"port,omitempty" json:"port,omitempty"`
	Namespace string      `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Routing   Routing     `yaml:"routing,omitempty" json:"routing,omitempty"`
}

// Environment names one side of a failover pair and its readiness targets
type Environment struct {
	Name   string   `yaml:"name" json:"name"`
	Region string   `yaml:"region,omitempty" json:"region,omitempty"`
	Checks []Target `yaml:"checks,omitempty" json:"checks,omitempty"`
}

// Target is an endpoint probed for readiness and validation
type Target struct {
	Name      string `yaml:"name" json:"name"`
	Type      string `yaml:"type" json:"type"` // http, grpc, postgres, mysql
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	TimeoutMs int    `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
}

// Routing configures how traffic is redirected during cutover
type Routing struct {
	Provider     string `yaml:"provider,omitempty" json:"provider,omitempty"` // route53, static
	HostedZoneID string `yaml:"hostedZoneId,omitempty" json:"hostedZoneId,omitempty"`
	RecordName   string `yaml:"recordName,omitempty" json:"recordName,omitempty"`
	TTLSeconds   int64  `yaml:"ttlSeconds,omitempty" json:"ttlSeconds,omitempty"`
}

// OrchestratorSettings tunes the failover state machine
type OrchestratorSettings struct {
	FailThreshold          int            `yaml:"failThreshold,omitempty" json:"failThreshold,omitempty"`
	PollIntervalSeconds    int            `yaml:"pollIntervalSeconds,omitempty" json:"pollIntervalSeconds,omitempty"`
	RTOBudgetSeconds       int            `yaml:"rtoBudgetSeconds,omitempty" json:"rtoBudgetSeconds,omitempty"`
	RollbackGraceSeconds   int            `yaml:"rollbackGraceSeconds,omitempty" json:"rollbackGraceSeconds,omitempty"`
	CanaryReplicas         int32          `yaml:"canaryReplicas,omitempty" json:"canaryReplicas,omitempty"`
	FullReplicas           int32          `yaml:"fullReplicas,omitempty" json:"fullReplicas,omitempty"`
	ValidationSampleCount  int            `yaml:"validationSampleCount,omitempty" json:"validationSampleCount,omitempty"`
	ValidationMinSuccess   float64        `yaml:"validationMinSuccess,omitempty" json:"validationMinSuccess,omitempty"`
	StageBudgetSeconds     map[string]int `yaml:"stageBudgetSeconds,omitempty" json:"stageBudgetSeconds,omitempty"`
}

// NotificationTarget configures an operator alert channel
type NotificationTarget struct {
	Type       string   `yaml:"type" json:"type"` // webhook, slack
	URL        string   `yaml:"url" json:"url"`
	Channel    string   `yaml:"channel,omitempty" json:"channel,omitempty"`
	EventTypes []string `yaml:"eventTypes,omitempty" json:"eventTypes,omitempty"`
}

// StorageSettings configures where run state and history are kept
type StorageSettings struct {
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty"`
}

// Defaults applied when the orchestrator section omits a setting.
const (
	DefaultFailThreshold        = 3
	DefaultPollIntervalSeconds  = 10
	DefaultRTOBudgetSeconds     = 300
	DefaultRollbackGraceSeconds = 300
	DefaultCanaryReplicas       = 1
	DefaultFullReplicas         = 3
	DefaultValidationSamples    = 5
	DefaultValidationMinSuccess = 1.0
)

// Load reads and parses the drops.yaml file
func (c *Config) Load() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return droerrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Create a drops.yaml describing your failover pairs, or pass --config",
			}
		}
		return droerrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return droerrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}

	if def.Version != 0 {
		return droerrors.ConfigError{
			Field:      "version",
			Value:      def.Version,
			Message:    "unsupported configuration version",
			Suggestion: "Set 'version: 0' at the top of your drops.yaml file",
		}
	}

	if err := validateSchema(&def); err != nil {
		return err
	}

	def.applyDefaults()

	if err := def.Validate(); err != nil {
		return err
	}

	c.Definition = &def
	return nil
}

func (d *Definition) applyDefaults() {
	o := &d.Orchestrator
	if o.FailThreshold <= 0 {
		o.FailThreshold = DefaultFailThreshold
	}
	if o.PollIntervalSeconds <= 0 {
		o.PollIntervalSeconds = DefaultPollIntervalSeconds
	}
	if o.RTOBudgetSeconds <= 0 {
		o.RTOBudgetSeconds = DefaultRTOBudgetSeconds
	}
	if o.RollbackGraceSeconds <= 0 {
		o.RollbackGraceSeconds = DefaultRollbackGraceSeconds
	}
	if o.CanaryReplicas <= 0 {
		o.CanaryReplicas = DefaultCanaryReplicas
	}
	if o.FullReplicas <= 0 {
		o.FullReplicas = DefaultFullReplicas
	}
	if o.ValidationSampleCount <= 0 {
		o.ValidationSampleCount = DefaultValidationSamples
	}
	if o.ValidationMinSuccess <= 0 {
		o.ValidationMinSuccess = DefaultValidationMinSuccess
	}

	for name, pair := range d.Pairs {
		if pair.Namespace == "" {
			pair.Namespace = "default"
		}
		if pair.Routing.Provider == "" {
			pair.Routing.Provider = "static"
		}
		if pair.Routing.TTLSeconds <= 0 {
			pair.Routing.TTLSeconds = 60
		}
		d.Pairs[name] = pair
	}
}

// Validate performs semantic checks that the JSON schema cannot express
func (d *Definition) Validate() error {
	if len(d.Pairs) == 0 {
		return droerrors.ConfigError{
			Field:      "pairs",
			Message:    "no failover pairs defined",
			Suggestion: "Add at least one pair with primary and recovery environments",
		}
	}

	o := d.Orchestrator
	if o.FullReplicas < o.CanaryReplicas {
		return droerrors.ConfigError{
			Field:      "orchestrator.fullReplicas",
			Value:      o.FullReplicas,
			Message:    fmt.Sprintf("must be >= canaryReplicas (%d)", o.CanaryReplicas),
			Suggestion: "Set fullReplicas to at least the canary replica count",
		}
	}
	if o.ValidationMinSuccess > 1.0 {
		return droerrors.ConfigError{
			Field:      "orchestrator.validationMinSuccess",
			Value:      o.ValidationMinSuccess,
			Message:    "must be a ratio between 0 and 1",
			Suggestion: "Use 1.0 to require every sample to pass",
		}
	}

	for name, pair := range d.Pairs {
		if pair.Primary.Name == "" || pair.Recovery.Name == "" {
			return droerrors.ConfigError{
				Field:      fmt.Sprintf("pairs.%s", name),
				Message:    "both primary and recovery environments need a name",
				Suggestion: "Set pairs.<name>.primary.name and pairs.<name>.recovery.name",
			}
		}
		if pair.Primary.Name == pair.Recovery.Name {
			return droerrors.ConfigError{
				Field:      fmt.Sprintf("pairs.%s", name),
				Value:      pair.Primary.Name,
				Message:    "primary and recovery must be different environments",
				Suggestion: "Point the recovery side at a separate cluster or region",
			}
		}
		if pair.Service == "" {
			return droerrors.ConfigError{
				Field:      fmt.Sprintf("pairs.%s.service", name),
				Message:    "service name is required",
				Suggestion: "Name the workload that failover promotes in the recovery environment",
			}
		}
		for _, check := range pair.Recovery.Checks {
			if !validTargetType(check.Type) {
				return droerrors.ConfigError{
					Field:      fmt.Sprintf("pairs.%s.recovery.checks.%s.type", name, check.Name),
					Value:      check.Type,
					Message:    "unknown check type",
					Suggestion: "Use one of: http, grpc, postgres, mysql",
				}
			}
		}
		if pair.Routing.Provider == "route53" {
			if pair.Routing.HostedZoneID == "" || pair.Routing.RecordName == "" {
				return droerrors.ConfigError{
					Field:      fmt.Sprintf("pairs.%s.routing", name),
					Message:    "route53 routing needs hostedZoneId and recordName",
					Suggestion: "Fill in the hosted zone and DNS record for the cutover, or use provider: static",
				}
			}
		}
	}

	return nil
}

func validTargetType(t string) bool {
	switch strings.ToLower(t) {
	case "http", "grpc", "postgres", "mysql":
		return true
	}
	return false
}

// GetPair returns the configuration for a named failover pair
func (c *Config) GetPair(name string) (Pair, error) {
	if c.Definition == nil {
		return Pair{}, droerrors.UserError{
			Message:    "Configuration not loaded",
			Suggestion: "This is an internal error. Please report it",
		}
	}

	pair, ok := c.Definition.Pairs[name]
	if !ok {
		var available []string
		for pairName := range c.Definition.Pairs {
			available = append(available, pairName)
		}

		suggestion := "Check your drops.yaml for configured pairs"
		if len(available) > 0 {
			suggestion = fmt.Sprintf("Available pairs: %s", strings.Join(available, ", "))
		}

		return Pair{}, droerrors.ConfigError{
			Field:      "pair",
			Value:      name,
			Message:    "failover pair not found",
			Suggestion: suggestion,
		}
	}

	return pair, nil
}

// PairNames returns the configured pair names
func (c *Config) PairNames() []string {
	if c.Definition == nil {
		return nil
	}
	names := make([]string, 0, len(c.Definition.Pairs))
	for name := range c.Definition.Pairs {
		names = append(names, name)
	}
	return names
}

// PollInterval returns the readiness poll interval as a duration
func (o OrchestratorSettings) PollInterval() time.Duration {
	return time.Duration(o.PollIntervalSeconds) * time.Second
}

// RTOBudget returns the recovery time objective as a duration
func (o OrchestratorSettings) RTOBudget() time.Duration {
	return time.Duration(o.RTOBudgetSeconds) * time.Second
}

// RollbackGrace returns the extra window granted to compensation after
// the forward deadline has already passed
func (o OrchestratorSettings) RollbackGrace() time.Duration {
	return time.Duration(o.RollbackGraceSeconds) * time.Second
}

// StageBudget returns the per-stage budget for a stage name, or zero when
// the stage has no budget beyond the run deadline
func (o OrchestratorSettings) StageBudget(stage string) time.Duration {
	if o.StageBudgetSeconds == nil {
		return 0
	}
	return time.Duration(o.StageBudgetSeconds[stage]) * time.Second
}

// GetTargetTimeout returns the probe timeout for a target in milliseconds
func (t Target) GetTargetTimeout() time.Duration {
	if t.TimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(t.TimeoutMs) * time.Millisecond
}
