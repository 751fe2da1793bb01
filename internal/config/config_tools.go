package config

import "time"

// ToolsConfig controls tool execution limits, approval policy, and result
// redaction. Fields that configured concrete tool implementations the
// ancestor codebase shipped (browser automation, web search, sandboxing,
// ServiceNow) are dropped — those tools are out of scope for this engine
// (§1), and a config struct for a tool that doesn't exist is dead weight.
type ToolsConfig struct {
	Policies  ToolPoliciesConfig  `yaml:"policies"`
	Execution ToolExecutionConfig `yaml:"execution"`
}

// ToolPoliciesConfig defines default allow/deny policies for tools.
type ToolPoliciesConfig struct {
	// Default policy behavior: "allow" or "deny".
	Default string `yaml:"default"`
	// Rules define per-tool allow/deny behavior.
	Rules []ToolPolicyRule `yaml:"rules"`
}

// ToolPolicyRule defines a policy action for one tool name pattern.
type ToolPolicyRule struct {
	Tool   string `yaml:"tool"`
	Action string `yaml:"action"` // "allow" | "deny"
}

// ToolExecutionConfig controls the tool dispatcher's concurrency, timeout,
// and retry behavior (§4.2).
type ToolExecutionConfig struct {
	// Parallelism is the dispatcher's max_concurrency semaphore size.
	Parallelism int `yaml:"parallelism"`

	// Timeout is the per-call tool_timeout.
	Timeout time.Duration `yaml:"timeout"`

	// MaxAttempts is 1 + MAX_TOOL_RETRIES: total attempts per call.
	MaxAttempts int `yaml:"max_attempts"`

	// RetryBackoff is the initial backoff between retry attempts.
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// YoloMode, when true, injects {"yolo_mode": true} into bash tool-call
	// arguments before execution (§4.2 argument preprocessing).
	YoloMode bool `yaml:"yolo_mode"`

	// ResultGuard controls redaction of tool results before persistence.
	ResultGuard ToolResultGuardConfig `yaml:"result_guard"`
}

// DefaultToolExecutionConfig returns the dispatcher defaults named in spec.md §4.2.
func DefaultToolExecutionConfig() ToolExecutionConfig {
	return ToolExecutionConfig{
		Parallelism:  5,
		Timeout:      30 * time.Second,
		MaxAttempts:  3,
		RetryBackoff: 100 * time.Millisecond,
	}
}

// ToolResultGuardConfig controls redaction of tool results before persistence.
type ToolResultGuardConfig struct {
	Enabled         bool     `yaml:"enabled"`
	MaxChars        int      `yaml:"max_chars"`
	Denylist        []string `yaml:"denylist"`
	RedactPatterns  []string `yaml:"redact_patterns"`
	RedactionText   string   `yaml:"redaction_text"`
	TruncateSuffix  string   `yaml:"truncate_suffix"`
	SanitizeSecrets bool     `yaml:"sanitize_secrets"`
}
