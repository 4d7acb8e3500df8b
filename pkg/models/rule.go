package models

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

// RuleType discriminates the evaluation engine a rule uses.
type RuleType string

// Rule type constants.
const (
	RuleTypeTraditional RuleType = "traditional"
	RuleTypeLLM         RuleType = "llm"
	RuleTypeHybrid      RuleType = "hybrid"
)

// TriggerMode is the schedule under which an LLM rule consults the model.
type TriggerMode string

// Trigger mode constants.
const (
	TriggerModeRealtime TriggerMode = "realtime"
	TriggerModeBatch    TriggerMode = "batch"
	TriggerModeInterval TriggerMode = "interval"
)

// TargetType identifies a notification transport.
type TargetType string

// Notification target types.
const (
	TargetTelegram TargetType = "telegram"
	TargetWeCom    TargetType = "wecom"
	TargetEmail    TargetType = "email"
	TargetSlack    TargetType = "slack"
)

// PreFilter is the sandboxed predicate of a traditional or hybrid rule.
type PreFilter struct {
	Type       string `json:"type"`
	Expression string `json:"expression"`
}

// LLMConfig configures the LLM path of an llm or hybrid rule.
type LLMConfig struct {
	Description         string      `json:"description"`
	TriggerMode         TriggerMode `json:"trigger_mode"`
	BatchSize           int         `json:"batch_size"`
	MaxWaitSeconds      int         `json:"max_wait_seconds"`
	IntervalSeconds     int         `json:"interval_seconds"`
	ConfidenceThreshold float64     `json:"confidence_threshold"`
}

// UnmarshalJSON fills in the built-in defaults for fields the payload
// omits. Explicitly supplied values are kept as-is so out-of-range
// input still fails validation.
func (c *LLMConfig) UnmarshalJSON(data []byte) error {
	var payload struct {
		Description         string       `json:"description"`
		TriggerMode         *TriggerMode `json:"trigger_mode"`
		BatchSize           *int         `json:"batch_size"`
		MaxWaitSeconds      *int         `json:"max_wait_seconds"`
		IntervalSeconds     *int         `json:"interval_seconds"`
		ConfidenceThreshold *float64     `json:"confidence_threshold"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}

	*c = LLMConfig{
		Description:         payload.Description,
		TriggerMode:         TriggerModeBatch,
		BatchSize:           5,
		MaxWaitSeconds:      30,
		IntervalSeconds:     30,
		ConfidenceThreshold: 0.7,
	}
	if payload.TriggerMode != nil {
		c.TriggerMode = *payload.TriggerMode
	}
	if payload.BatchSize != nil {
		c.BatchSize = *payload.BatchSize
	}
	if payload.MaxWaitSeconds != nil {
		c.MaxWaitSeconds = *payload.MaxWaitSeconds
	}
	if payload.IntervalSeconds != nil {
		c.IntervalSeconds = *payload.IntervalSeconds
	}
	if payload.ConfidenceThreshold != nil {
		c.ConfidenceThreshold = *payload.ConfidenceThreshold
	}
	return nil
}

// RuleConfig is a discriminated union on RuleType: traditional requires
// PreFilter, llm requires LLM, hybrid requires both.
type RuleConfig struct {
	RuleType  RuleType   `json:"rule_type"`
	PreFilter *PreFilter `json:"pre_filter,omitempty"`
	LLM       *LLMConfig `json:"llm_config,omitempty"`
}

// NotifyTarget is one recipient of a rule's notifications. Which fields are
// meaningful depends on Type.
type NotifyTarget struct {
	Type       TargetType `json:"type"`
	UserID     string     `json:"user_id,omitempty"`
	ChatID     string     `json:"chat_id,omitempty"`
	WebhookKey string     `json:"webhook_key,omitempty"`
	ChannelID  string     `json:"channel_id,omitempty"`
	To         []string   `json:"to,omitempty"`
}

// RateLimit bounds notification volume per rule.
type RateLimit struct {
	MaxPerMinute    int `json:"max_per_minute"`
	CooldownSeconds int `json:"cooldown_seconds"`
}

// NotifyPolicy describes where and how often to notify.
type NotifyPolicy struct {
	Targets   []NotifyTarget `json:"targets"`
	RateLimit RateLimit      `json:"rate_limit"`
}

// DefaultRateLimit returns the built-in rate limit defaults.
func DefaultRateLimit() RateLimit {
	return RateLimit{MaxPerMinute: 5, CooldownSeconds: 60}
}

// RuleMetadata carries bookkeeping fields maintained by the rule store.
// Version increases monotonically on each write.
type RuleMetadata struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by"`
	Version   int64     `json:"version"`
}

// Rule is a complete user-defined trigger rule.
type Rule struct {
	RuleID       string       `json:"rule_id"`
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	Enabled      bool         `json:"enabled"`
	Priority     int          `json:"priority"`
	EventTypes   []string     `json:"event_types"`
	ContextKeys  []string     `json:"context_keys"`
	RuleConfig   RuleConfig   `json:"rule_config"`
	NotifyPolicy NotifyPolicy `json:"notify_policy"`
	Metadata     RuleMetadata `json:"metadata"`
}

// MatchesEventType reports whether the rule subscribes to the event type.
func (r *Rule) MatchesEventType(eventType string) bool {
	for _, t := range r.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// MatchesContextKey reports whether any context key pattern matches.
// An empty pattern list matches everything. Patterns support * as a
// prefix, suffix, or glob token.
func (r *Rule) MatchesContextKey(contextKey string) bool {
	if len(r.ContextKeys) == 0 {
		return true
	}
	for _, pattern := range r.ContextKeys {
		if matchPattern(pattern, contextKey) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == value
	}
	if parts := strings.Split(pattern, "*"); len(parts) == 2 {
		return strings.HasPrefix(value, parts[0]) && strings.HasSuffix(value, parts[1])
	}
	ok, err := path.Match(pattern, value)
	return err == nil && ok
}

// FieldError is one invalid field in a rule payload.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the rule's structural invariants and returns one error
// per invalid field.
func (r *Rule) Validate() []FieldError {
	var errs []FieldError
	if r.Name == "" {
		errs = append(errs, FieldError{Field: "name", Message: "required"})
	}
	if len(r.EventTypes) == 0 {
		errs = append(errs, FieldError{Field: "event_types", Message: "at least one event type required"})
	}
	if r.Priority < 0 {
		errs = append(errs, FieldError{Field: "priority", Message: "must be >= 0"})
	}
	errs = append(errs, r.RuleConfig.Validate()...)
	errs = append(errs, r.NotifyPolicy.Validate()...)
	return errs
}

// Validate enforces the rule_type discriminated-union invariant.
func (c *RuleConfig) Validate() []FieldError {
	var errs []FieldError
	switch c.RuleType {
	case RuleTypeTraditional:
		if c.PreFilter == nil {
			errs = append(errs, FieldError{Field: "rule_config.pre_filter", Message: "required for traditional rules"})
		}
	case RuleTypeLLM:
		if c.LLM == nil {
			errs = append(errs, FieldError{Field: "rule_config.llm_config", Message: "required for llm rules"})
		}
	case RuleTypeHybrid:
		if c.PreFilter == nil {
			errs = append(errs, FieldError{Field: "rule_config.pre_filter", Message: "required for hybrid rules"})
		}
		if c.LLM == nil {
			errs = append(errs, FieldError{Field: "rule_config.llm_config", Message: "required for hybrid rules"})
		}
	default:
		errs = append(errs, FieldError{Field: "rule_config.rule_type", Message: fmt.Sprintf("unknown rule type %q", c.RuleType)})
	}
	if c.PreFilter != nil && c.PreFilter.Expression == "" {
		errs = append(errs, FieldError{Field: "rule_config.pre_filter.expression", Message: "required"})
	}
	if c.LLM != nil {
		errs = append(errs, c.LLM.Validate()...)
	}
	return errs
}

// Validate checks LLM config bounds.
func (c *LLMConfig) Validate() []FieldError {
	var errs []FieldError
	if c.Description == "" {
		errs = append(errs, FieldError{Field: "rule_config.llm_config.description", Message: "required"})
	}
	switch c.TriggerMode {
	case TriggerModeRealtime, TriggerModeBatch, TriggerModeInterval:
	default:
		errs = append(errs, FieldError{Field: "rule_config.llm_config.trigger_mode", Message: fmt.Sprintf("unknown trigger mode %q", c.TriggerMode)})
	}
	if c.BatchSize < 1 {
		errs = append(errs, FieldError{Field: "rule_config.llm_config.batch_size", Message: "must be >= 1"})
	}
	if c.MaxWaitSeconds < 1 {
		errs = append(errs, FieldError{Field: "rule_config.llm_config.max_wait_seconds", Message: "must be >= 1"})
	}
	if c.IntervalSeconds < 1 {
		errs = append(errs, FieldError{Field: "rule_config.llm_config.interval_seconds", Message: "must be >= 1"})
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errs = append(errs, FieldError{Field: "rule_config.llm_config.confidence_threshold", Message: "must be within [0, 1]"})
	}
	return errs
}

// Validate checks notify policy bounds.
func (p *NotifyPolicy) Validate() []FieldError {
	var errs []FieldError
	if p.RateLimit.MaxPerMinute < 1 {
		errs = append(errs, FieldError{Field: "notify_policy.rate_limit.max_per_minute", Message: "must be >= 1"})
	}
	if p.RateLimit.CooldownSeconds < 0 {
		errs = append(errs, FieldError{Field: "notify_policy.rate_limit.cooldown_seconds", Message: "must be >= 0"})
	}
	return errs
}

// SortByPriority orders rules by descending priority, stable on rule ID
// so repeated listings are deterministic.
func SortByPriority(rules []*Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].RuleID < rules[j].RuleID
	})
}
