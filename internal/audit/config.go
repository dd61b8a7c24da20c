package audit

import (
	"fmt"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Output destinations other than a file path.
const (
	OutputStdout = "stdout"
	OutputStderr = "stderr"
)

// Config configures audit logging.
type Config struct {
	Enabled      bool         `yaml:"enabled" json:"enabled"`
	Output       string       `yaml:"output,omitempty" json:"output,omitempty"`
	Format       string       `yaml:"format,omitempty" json:"format,omitempty"`
	Events       EventsConfig `yaml:"events" json:"events"`
	RedactFields []string     `yaml:"redactFields,omitempty" json:"redactFields,omitempty"`
}

// EventsConfig selects which event types are written.
type EventsConfig struct {
	Authentication bool `yaml:"authentication" json:"authentication"`
	Security       bool `yaml:"security" json:"security"`
	Configuration  bool `yaml:"configuration" json:"configuration"`
}

// DefaultConfig returns a disabled configuration that audits every event
// type once enabled.
func DefaultConfig() *Config {
	return &Config{
		Enabled: false,
		Output:  OutputStdout,
		Format:  FormatJSON,
		Events: EventsConfig{
			Authentication: true,
			Security:       true,
			Configuration:  true,
		},
		RedactFields: []string{"password", "secret", "token", "authorization"},
	}
}

// Validate checks the format. Output is checked when the logger opens it.
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}
	if c.Format != "" && c.Format != FormatJSON && c.Format != FormatText {
		return fmt.Errorf("invalid audit format: %s (must be 'json' or 'text')", c.Format)
	}
	return nil
}

// GetEffectiveOutput returns the output, defaulting to stdout.
func (c *Config) GetEffectiveOutput() string {
	if c.Output == "" {
		return OutputStdout
	}
	return c.Output
}

// GetEffectiveFormat returns the format, defaulting to JSON.
func (c *Config) GetEffectiveFormat() string {
	if c.Format == "" {
		return FormatJSON
	}
	return c.Format
}

func (c *Config) shouldAudit(t EventType) bool {
	switch t {
	case EventTypeAuthentication:
		return c.Events.Authentication
	case EventTypeSecurity:
		return c.Events.Security
	case EventTypeConfiguration:
		return c.Events.Configuration
	default:
		return true
	}
}
