package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Action kinds recorded by the core. The set is closed: handlers and
// services only ever emit these constants.
const (
	ActionCredentialCreate    = "credential.create"
	ActionCredentialDelete    = "credential.delete"
	ActionCredentialIntegrity = "credential.integrity_failure"
	ActionSessionOpen         = "session.open"
	ActionSessionClose        = "session.close"
	ActionLifecycleDeploy     = "lifecycle.deploy"
	ActionLifecycleInstall    = "lifecycle.install"
	ActionLifecycleStart      = "lifecycle.start"
	ActionLifecycleStop       = "lifecycle.stop"
	ActionLifecycleUninstall  = "lifecycle.uninstall"
	ActionLifecycleError      = "lifecycle.error"
	ActionLifecycleInfo       = "lifecycle.info"
	ActionHostDelete          = "host.delete"
)

// Target types referenced by audit entries.
const (
	TargetCredential = "credential"
	TargetHost       = "host"
	TargetSession    = "session"
)

type Entry struct {
	ID         string
	Actor      string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
	CreatedAt  time.Time
}

// Filter narrows a Query. Zero values mean "no constraint".
type Filter struct {
	Actor      string
	Action     string
	TargetType string
	TargetID   string
	From       time.Time
	To         time.Time
	Limit      int
}

// Store is an append-only sink. Implementations must never mutate or
// remove entries once appended.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	Query(ctx context.Context, filter Filter) ([]Entry, error)
}

// Recorder is the write-side service shared by the vault, the connection
// manager, the lifecycle controller and the terminal relay.
type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Record appends one entry. A failed append is a hard failure: callers
// performing state-changing operations must abort the operation rather
// than proceed unaudited.
func (r *Recorder) Record(ctx context.Context, actor, action, targetType, targetID string, metadata map[string]any) error {
	entry := Entry{
		ID:         uuid.New().String(),
		Actor:      actor,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.store.Append(ctx, entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// RecordBestEffort is used by read-only info/status paths where a failed
// audit write must not fail the triggering operation.
func (r *Recorder) RecordBestEffort(ctx context.Context, actor, action, targetType, targetID string, metadata map[string]any) {
	if err := r.Record(ctx, actor, action, targetType, targetID, metadata); err != nil {
		slog.Warn("Best-effort audit write failed", "action", action, "target_id", targetID, "error", err)
	}
}

// Query reads entries matching the filter. Authorization is enforced at
// the API layer; the store itself has no notion of roles.
func (r *Recorder) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	return r.store.Query(ctx, filter)
}
