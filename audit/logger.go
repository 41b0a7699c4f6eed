package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Config defines audit logging configuration.
type Config struct {
	Enabled  bool                   `json:"enabled"`
	ClientID string                 `json:"client_id"`
	Type     ConfigType             `json:"type"`    // "file", "syslog", ""
	Options  map[string]interface{} `json:"options"` // Provider-specific options
	LogLevel string                 `json:"log_level,omitempty"`
}

type ConfigType string

const (
	FileAuditType   ConfigType = "file"
	SyslogAuditType ConfigType = "syslog"
	NoOp            ConfigType = ""
)

// Logger is the pluggable audit sink for vault operations. Implementations
// must never log secret material; events carry identifiers and sizes only.
type Logger interface {
	Log(action string, success bool, metadata map[string]interface{}) error
	Query(options QueryOptions) (QueryResult, error)
	Close() error
}

// Event represents one audit log entry.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	ClientID  string                 `json:"client_id,omitempty"`
	VaultID   string                 `json:"vault_id,omitempty"`
	RecordID  string                 `json:"record_id,omitempty"`
	Action    string                 `json:"action"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// QueryOptions filters audit events.
type QueryOptions struct {
	ClientID string
	VaultID  string
	RecordID string
	Action   string
	Since    *time.Time
	Until    *time.Time
	Success  *bool // nil = all, true = only success, false = only failures
	Limit    int
	Offset   int
}

// QueryResult contains the results of an audit query.
type QueryResult struct {
	Events     []Event `json:"events"`
	TotalCount int     `json:"total_count"`
	HasMore    bool    `json:"has_more"`
}

// NewLogger creates a logger for the given configuration. A nil or
// disabled configuration yields the no-op logger.
func NewLogger(config *Config) (Logger, error) {
	if config == nil || !config.Enabled {
		return &NoOpLogger{}, nil
	}

	switch config.Type {
	case FileAuditType:
		return NewFileLogger(config)
	case SyslogAuditType:
		return NewSyslogLogger(config)
	case NoOp:
		return &NoOpLogger{}, nil
	default:
		return nil, fmt.Errorf("unknown audit provider: %s", config.Type)
	}
}

// parseOptions converts the free-form options map into a typed struct.
func parseOptions(options map[string]interface{}, target interface{}) error {
	if len(options) == 0 {
		return nil
	}

	jsonData, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}
	if err = json.Unmarshal(jsonData, target); err != nil {
		return fmt.Errorf("failed to unmarshal options: %w", err)
	}
	return nil
}

// eventFromMetadata builds an Event, lifting well-known identifier keys
// out of the metadata map.
func eventFromMetadata(clientID, action string, success bool, metadata map[string]interface{}) Event {
	event := Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		ClientID:  clientID,
		Action:    action,
		Success:   success,
		Metadata:  metadata,
	}
	if metadata != nil {
		if v, ok := metadata["client_id"].(string); ok && v != "" {
			event.ClientID = v
		}
		if v, ok := metadata["vault_id"].(string); ok {
			event.VaultID = v
		}
		if v, ok := metadata["record_id"].(string); ok {
			event.RecordID = v
		}
		if v, ok := metadata["error"].(string); ok {
			event.Error = v
		}
	}
	return event
}

func matches(e Event, opts QueryOptions) bool {
	if opts.ClientID != "" && e.ClientID != opts.ClientID {
		return false
	}
	if opts.VaultID != "" && e.VaultID != opts.VaultID {
		return false
	}
	if opts.RecordID != "" && e.RecordID != opts.RecordID {
		return false
	}
	if opts.Action != "" && e.Action != opts.Action {
		return false
	}
	if opts.Since != nil && e.Timestamp.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && e.Timestamp.After(*opts.Until) {
		return false
	}
	if opts.Success != nil && e.Success != *opts.Success {
		return false
	}
	return true
}
