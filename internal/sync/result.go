package sync

import (
	"fmt"
	"strings"
	"time"

	"github.com/klauern/rowsync/internal/scope"
)

// Status is the outcome of a session.
type Status string

const (
	// StatusCompleted indicates every step succeeded and the watermark advanced.
	StatusCompleted Status = "completed"

	// StatusFailed indicates a step failed.
	StatusFailed Status = "failed"

	// StatusCancelled indicates the session was stopped by its context.
	StatusCancelled Status = "cancelled"
)

// Result contains the complete outcome of a sync session.
type Result struct {
	SessionID string
	ScopeName string

	Status Status

	// Step is the last step reached, the failing one when Status is not
	// completed.
	Step scope.Step

	// BatchIndex is the batch being processed when the session failed, -1
	// when none.
	BatchIndex int

	// Err holds the failure.
	Err error

	// WatermarkAdvanced reports whether the client scope was saved with a
	// new watermark. It is false for every failed or cancelled session.
	WatermarkAdvanced bool

	// Watermark is the client's server watermark after the session.
	Watermark int64

	// Policy is the server's conflict policy.
	Policy ConflictPolicy

	// UploadedChanges counts rows sent to the server, ServerApplied the rows
	// the server applied.
	UploadedChanges int
	ServerApplied   int

	// DownloadedChanges counts rows received from the server, Applied and
	// Skipped how the client handled them.
	DownloadedChanges int
	Applied           int
	Skipped           int

	// UploadedBatches and DownloadedBatches list the batch indices exchanged
	// in order.
	UploadedBatches   []int
	DownloadedBatches []int

	// Conflicts lists conflicts detected on either side.
	Conflicts []Conflict

	StartTime    time.Time
	CompleteTime time.Time
}

func newResult(sessionID, scopeName string) *Result {
	return &Result{
		SessionID:  sessionID,
		ScopeName:  scopeName,
		Step:       scope.StepInit,
		BatchIndex: -1,
		StartTime:  time.Now(),
	}
}

// Success returns true if the session completed.
func (r *Result) Success() bool {
	return r.Status == StatusCompleted
}

// Duration returns how long the session took.
func (r *Result) Duration() time.Duration {
	if r.CompleteTime.IsZero() {
		return time.Since(r.StartTime)
	}
	return r.CompleteTime.Sub(r.StartTime)
}

// HasConflicts returns true if any conflict was detected.
func (r *Result) HasConflicts() bool {
	return len(r.Conflicts) > 0
}

// Unresolved returns the conflicts whose rows were skipped.
func (r *Result) Unresolved() []Conflict {
	var out []Conflict
	for _, c := range r.Conflicts {
		if !c.IsResolved() {
			out = append(out, c)
		}
	}
	return out
}

// Summary returns a human-readable summary of the session.
func (r *Result) Summary() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Sync %s of scope %s: %s in %s\n", r.SessionID, r.ScopeName, r.Status, r.Duration().Round(time.Millisecond))
	fmt.Fprintf(&sb, "  Uploaded:   %d rows in %d batches (%d applied)\n", r.UploadedChanges, len(r.UploadedBatches), r.ServerApplied)
	fmt.Fprintf(&sb, "  Downloaded: %d rows in %d batches (%d applied, %d skipped)\n",
		r.DownloadedChanges, len(r.DownloadedBatches), r.Applied, r.Skipped)
	fmt.Fprintf(&sb, "  Conflicts:  %d (%d unresolved, policy %s)\n", len(r.Conflicts), len(r.Unresolved()), r.Policy)
	fmt.Fprintf(&sb, "  Watermark:  %d", r.Watermark)
	if !r.WatermarkAdvanced {
		sb.WriteString(" (not advanced)")
	}
	sb.WriteString("\n")

	if unresolved := r.Unresolved(); len(unresolved) > 0 {
		sb.WriteString("\nUnresolved conflicts:\n")
		for _, c := range unresolved {
			fmt.Fprintf(&sb, "  - %s\n", c.Summary())
		}
	}

	if r.Err != nil {
		sb.WriteString("\nError:\n")
		fmt.Fprintf(&sb, "  step %s", r.Step)
		if r.BatchIndex >= 0 {
			fmt.Fprintf(&sb, ", batch %d", r.BatchIndex)
		}
		fmt.Fprintf(&sb, ": %v\n", r.Err)
	}

	return sb.String()
}
