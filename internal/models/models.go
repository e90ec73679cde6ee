// Package models defines the core domain types shared across the discovery
// engine: credential profiles, discovery jobs, and discovered devices.
package models

import "time"

// JobStatus is the closed enumeration of discovery job states.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Valid reports whether s is one of the known job statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobRunning, JobCompleted, JobFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal state (no further transitions).
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// DeviceStatus is the closed enumeration of device health states.
type DeviceStatus string

const (
	DeviceOnline  DeviceStatus = "online"
	DeviceOffline DeviceStatus = "offline"
	DeviceUnknown DeviceStatus = "unknown"
	DeviceError   DeviceStatus = "error"
)

// Valid reports whether s is one of the known device statuses.
func (s DeviceStatus) Valid() bool {
	switch s {
	case DeviceOnline, DeviceOffline, DeviceUnknown, DeviceError:
		return true
	}
	return false
}

// DeviceType is the closed enumeration of OS families a probe can derive.
type DeviceType string

const (
	DeviceLinux   DeviceType = "linux"
	DeviceMacOS   DeviceType = "macos"
	DeviceWindows DeviceType = "windows"
	DeviceTypeUnknown DeviceType = "unknown"
)

// CredentialProfile is an owner-scoped SSH credential bundle used by
// discovery jobs. Secret and PrivateKey hold AEAD ciphertext — never
// plaintext — and must never be serialized back to API callers.
type CredentialProfile struct {
	ID         string
	Name       string
	Username   string
	Secret     string  // ciphertext, base64
	PrivateKey *string // ciphertext, base64, optional
	Port       int
	OwnerID    string
}

// DiscoveryJob is one CIDR scan request and its lifecycle state.
type DiscoveryJob struct {
	ID                  string
	Name                string
	Status              JobStatus
	TargetRange         string
	CredentialProfileID string
	Summary             map[string]interface{} // rewritten, not appended, on completion
	CreatedAt           time.Time
	StartedAt           *time.Time
	CompletedAt         *time.Time
	CreatorID           string
}

// Device is a host discovered (or previously discovered) by a job.
//
// DiscoveryJobID records the job that most recently wrote this row.
// Results are scoped by job id, not by credential profile (see the
// results-scoping design note), so a device re-discovered by a later
// job under the same profile "moves" to that job rather than
// appearing under both.
type Device struct {
	ID                  string
	Hostname            string // "unknown" allowed
	IPAddress           string
	DeviceType          DeviceType
	OSFacts             map[string]interface{}
	CredentialProfileID string
	DiscoveryJobID      string
	Status              DeviceStatus
	LastSeen            time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// DiscoverySummary is the shape persisted into DiscoveryJob.Summary on a
// normal pipeline completion.
type DiscoverySummary struct {
	TotalIPsScanned   int      `json:"totalIpsScanned"`
	DevicesDiscovered int      `json:"devicesDiscovered"`
	Devices           []string `json:"devices"`
}

// FailureSummary is persisted into DiscoveryJob.Summary when the pipeline
// fails at the orchestration level (as opposed to a per-host failure,
// which is swallowed).
type FailureSummary struct {
	Error    string `json:"error"`
	FailedAt string `json:"failedAt"`
}

// CancellationSummary is persisted into DiscoveryJob.Summary when a job is
// cancelled. Advisory cancellation: in-flight probes may still drain.
type CancellationSummary struct {
	Cancelled   bool   `json:"cancelled"`
	CancelledAt string `json:"cancelled_at"`
}
