// Package cluster reports process identity and health for a single registry
// instance: build version, start time, and the aggregate health used by the
// HTTP health endpoints and /v1/metadata routes.
package cluster

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Version information - set at build time via -ldflags.
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Metadata holds identity information for this registry instance.
type Metadata struct {
	ClusterID string    `json:"cluster_id"`
	Version   string    `json:"version"`
	GitCommit string    `json:"commit,omitempty"`
	BuildTime string    `json:"build_time,omitempty"`
	GoVersion string    `json:"go_version"`
	StartTime time.Time `json:"start_time"`
	NodeID    string    `json:"node_id"`
	Hostname  string    `json:"hostname"`
	Address   string    `json:"address"`
	Port      int       `json:"port"`
}

// Status represents the health state of this instance.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusStarting  Status = "starting"
	StatusStopping  Status = "stopping"
)

// Info tracks identity and health for a single registry instance. Nimbus is
// specified as a single logical registry (no inter-instance replication), so
// unlike the teacher's multi-node ClusterInfo this carries no peer/leader
// bookkeeping — only this process's own metadata and status.
type Info struct {
	mu          sync.RWMutex
	metadata    *Metadata
	status      Status
	schemaCount int
}

// NewInfo creates instance info for a registry listening on address:port.
func NewInfo(address string, port int) *Info {
	hostname, _ := os.Hostname()

	metadata := &Metadata{
		ClusterID: uuid.New().String(),
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		StartTime: time.Now(),
		NodeID:    uuid.New().String(),
		Hostname:  hostname,
		Address:   address,
		Port:      port,
	}

	return &Info{
		metadata: metadata,
		status:   StatusHealthy,
	}
}

// GetMetadata returns the instance's identity metadata.
func (i *Info) GetMetadata() *Metadata {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.metadata
}

// GetClusterID returns the cluster ID reported to clients.
func (i *Info) GetClusterID() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.metadata.ClusterID
}

// SetClusterID overrides the generated cluster ID, e.g. from configuration.
func (i *Info) SetClusterID(id string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.metadata.ClusterID = id
}

// GetVersion returns build-version fields as a string map, suitable for
// direct JSON serving.
func (i *Info) GetVersion() map[string]string {
	return map[string]string{
		"version":    Version,
		"commit":     GitCommit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
	}
}

// SetStatus updates this instance's health status.
func (i *Info) SetStatus(status Status) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.status = status
}

// IsHealthy reports whether this instance's status is healthy.
func (i *Info) IsHealthy() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.status == StatusHealthy
}

// SetSchemaCount records the current total schema count, surfaced in health
// status for operational visibility.
func (i *Info) SetSchemaCount(count int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.schemaCount = count
}

// HealthStatus summarizes this instance's health.
type HealthStatus struct {
	Status      string          `json:"status"`
	Uptime      string          `json:"uptime"`
	SchemaCount int             `json:"schema_count,omitempty"`
	Checks      map[string]bool `json:"checks"`
}

// GetHealthStatus builds a health summary. storageHealthy reflects the
// result of a live storage-backend check; memory is assumed healthy since
// the in-memory store cannot itself report pressure.
func (i *Info) GetHealthStatus(storageHealthy bool) *HealthStatus {
	i.mu.RLock()
	defer i.mu.RUnlock()

	status := string(StatusHealthy)
	if i.status != StatusHealthy || !storageHealthy {
		status = string(StatusUnhealthy)
	}

	return &HealthStatus{
		Status:      status,
		Uptime:      time.Since(i.metadata.StartTime).String(),
		SchemaCount: i.schemaCount,
		Checks: map[string]bool{
			"storage": storageHealthy,
			"memory":  true,
		},
	}
}
