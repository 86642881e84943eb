package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// State of an output job
type State string

const (
	StateSubmitting State = "submitting"
	StatePolling    State = "polling"
	StateDone       State = "done"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

const (
	msgUnexpected      = "Unexpected error during polling"
	msgPolling         = "Error during polling"
	msgCancelled       = "Output generation cancelled"
	msgNoDocument      = "Document state is unavailable"
	msgOutputSettings  = "Failed to load output settings"
	msgDataSource      = "Failed to resolve data source configuration"
	statusClientClosed = 499
)

// Request describes one user-initiated export
type Request struct {
	Format           string `json:"format"`
	LayoutID         string `json:"layoutId"`
	ProjectID        string `json:"projectId,omitempty"`
	TemplateID       string `json:"templateId,omitempty"`
	OutputSettingsID string `json:"outputSettingsId,omitempty"`
}

func (r Request) validate() error {
	if strings.TrimSpace(r.Format) == "" {
		return fmt.Errorf("format is required")
	}
	if strings.TrimSpace(r.LayoutID) == "" {
		return fmt.Errorf("layoutId is required")
	}
	if (r.ProjectID == "") == (r.TemplateID == "") {
		return fmt.Errorf("exactly one of projectId or templateId is required")
	}
	return nil
}

// Output is the downloaded result of a finished job
type Output struct {
	ExtensionType string
	ContentType   string
	OutputData    []byte
}

// DataConnectorConfig is the resolved data source sent with the job
type DataConnectorConfig struct {
	ID            string            `json:"id"`
	Configuration map[string]string `json:"configuration"`
}

// Job tracks one submitted request until it reaches a terminal state
type Job struct {
	ID                    string
	Request               Request
	DataConnectorConfig   *DataConnectorConfig
	EngineVersionOverride string
	DocumentSnapshot      json.RawMessage
	TaskHandle            string
	State                 State
	StartedAt             time.Time
}

// JobError is the single failure shape of Generate
type JobError struct {
	Status  int
	Message string
	Err     error
}

func (e *JobError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (status %d): %v", e.Message, e.Status, e.Err)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// Result is the JSON failure contract shown to callers
type Result struct {
	Success bool   `json:"success"`
	Status  int    `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ResultFromError maps any Generate error to a Result
func ResultFromError(err error) Result {
	if err == nil {
		return Result{Success: true}
	}
	if je, ok := err.(*JobError); ok {
		status := je.Status
		if status < 100 || status > 599 {
			status = http.StatusInternalServerError
		}
		return Result{Success: false, Status: status, Error: je.Message}
	}
	return Result{Success: false, Status: http.StatusInternalServerError, Error: msgUnexpected}
}

// flexStatus accepts both numeric and string status codes
type flexStatus int

func (s *flexStatus) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		n, err := strconv.Atoi(strings.TrimSpace(str))
		if err != nil {
			return fmt.Errorf("invalid status %q: %w", str, err)
		}
		*s = flexStatus(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = flexStatus(n)
	return nil
}

type apiError struct {
	Status flexStatus `json:"status"`
	Detail string     `json:"detail"`
}

// parseAPIError reports whether body is a structured {status, detail} payload
func parseAPIError(body []byte) (*apiError, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, false
	}
	if _, ok := fields["status"]; !ok {
		return nil, false
	}
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, false
	}
	return &e, true
}

type submitRequest struct {
	LayoutID            string               `json:"layoutId"`
	ProjectID           string               `json:"projectId,omitempty"`
	TemplateID          string               `json:"templateId,omitempty"`
	OutputSettingsID    string               `json:"outputSettingsId,omitempty"`
	DataConnectorConfig *DataConnectorConfig `json:"dataConnectorConfig,omitempty"`
	EngineVersion       string               `json:"engineVersion,omitempty"`
	DocumentContent     json.RawMessage      `json:"documentContent"`
}

type submitResponse struct {
	Links struct {
		TaskInfo string `json:"taskInfo"`
	} `json:"links"`
}

type taskResponse struct {
	Links struct {
		Download string `json:"download"`
	} `json:"links"`
}

type outputSetting struct {
	DataSourceEnabled bool `json:"dataSourceEnabled"`
}
