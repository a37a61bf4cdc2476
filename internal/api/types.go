package api

import (
	"time"

	"github.com/samcharles93/hybridstencil/internal/accel"
	"github.com/samcharles93/hybridstencil/internal/harness"
	"github.com/samcharles93/hybridstencil/internal/hybrid"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RunRequest is the body of POST /v1/runs. Omitted fields keep the server
// defaults.
type RunRequest struct {
	hybrid.Config
	Backend    string `json:"backend,omitempty"`
	Vendor     string `json:"vendor,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
}

// RunRecord is the stored state of a submitted run.
type RunRecord struct {
	ID         string          `json:"id"`
	Status     Status          `json:"status"`
	Request    RunRequest      `json:"request"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Error      string          `json:"error,omitempty"`
	Report     *harness.Report `json:"report,omitempty"`
}

// CreateRunResponse is returned by POST /v1/runs.
type CreateRunResponse struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
}

// ListRunsResponse is returned by GET /v1/runs.
type ListRunsResponse struct {
	Data []RunRecord `json:"data"`
}

// DevicesResponse is returned by GET /v1/devices.
type DevicesResponse struct {
	Backend string             `json:"backend"`
	Devices []accel.DeviceInfo `json:"devices"`
}

// Message is one frame of the events stream: either a progress event or,
// last, the final run record.
type Message struct {
	Type  string        `json:"type"`
	Event *hybrid.Event `json:"event,omitempty"`
	Run   *RunRecord    `json:"run,omitempty"`
}

// ErrorBody is the error envelope of every non-2xx response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}
