// Package types defines the public data model for the lsphub library.
package types

import "time"

// Default timing values used when a Config field is zero.
const (
	DefaultDiagnosticTimeout = 5 * time.Second
	DefaultInitTimeout       = 15 * time.Second
	DefaultPollInterval      = 100 * time.Millisecond
	DefaultSettleWindow      = 500 * time.Millisecond
)

// Config holds the workspace-level LSP orchestration settings.
type Config struct {
	// Root is the fallback project root when marker walking finds nothing.
	Root string `json:"root,omitempty"`
	// DiagnosticTimeout bounds how long a diagnostics request waits for the
	// server to publish results.
	DiagnosticTimeout time.Duration `json:"diagnosticTimeout,omitempty"`
	// InitTimeout bounds the initialize handshake of a freshly spawned server.
	InitTimeout time.Duration `json:"initTimeout,omitempty"`
	// PollInterval is how often the cached diagnostic list is checked while
	// waiting for results.
	PollInterval time.Duration `json:"pollInterval,omitempty"`
	// SettleWindow is how long an empty diagnostic list must remain empty
	// before it is trusted as the final answer.
	SettleWindow time.Duration `json:"settleWindow,omitempty"`
	// DisableServers lists server ids that must never be started.
	DisableServers []string `json:"disableServers,omitempty"`
}

// WithDefaults returns a copy of the config with zero fields replaced by
// their defaults.
func (c Config) WithDefaults() Config {
	if c.DiagnosticTimeout <= 0 {
		c.DiagnosticTimeout = DefaultDiagnosticTimeout
	}
	if c.InitTimeout <= 0 {
		c.InitTimeout = DefaultInitTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SettleWindow <= 0 {
		c.SettleWindow = DefaultSettleWindow
	}
	return c
}

// Severity classifies a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeverityHint    Severity = "hint"
)

// Diagnostic is a normalized language-server diagnostic. Line and Character
// are 1-indexed.
type Diagnostic struct {
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
	Line      int      `json:"line"`
	Character int      `json:"character"`
	Source    string   `json:"source,omitempty"`
}

// ServerStatus describes one live language server held by the manager.
type ServerStatus struct {
	ID   string `json:"id"`
	Root string `json:"root"`
	Key  string `json:"key"`
}
