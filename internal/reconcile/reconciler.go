// Package reconcile applies proposed calendar actions to the local ledger
// and pushes them to the remote calendar. The ledger is the durable source
// of truth; remote failures are recorded on the ledger record, never fatal.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/kalambet/calscribe/internal/calendar"
	"github.com/kalambet/calscribe/internal/intent"
	"github.com/kalambet/calscribe/internal/ledger"
	"github.com/kalambet/calscribe/internal/storage"
)

// JobTypeApplyAction is the queue job type for deferred action application.
const JobTypeApplyAction = "apply_action"

// Remote is the calendar write surface the reconciler needs.
type Remote interface {
	Insert(ctx context.Context, p calendar.EventPayload) (string, error)
	Update(ctx context.Context, gcalID string, p calendar.EventPayload) error
	Move(ctx context.Context, sourceCalendarID, sourceEventID string) (string, error)
}

// Repairer asks the model to fix a payload the remote API rejected.
type Repairer interface {
	Repair(ctx context.Context, draft intent.EventDraft, apiError string) (*intent.EventDraft, error)
}

// Reconciler merges actions into the ledger and reconciles records against
// the remote calendar.
type Reconciler struct {
	ledger   *ledger.Manager
	store    *storage.Store
	repairer Repairer

	mu     sync.RWMutex
	remote Remote

	// AutoAcceptThreshold is the minimum confidence for an action to be
	// applied without user confirmation.
	AutoAcceptThreshold float64
}

// New creates a Reconciler. remote may be nil when the calendar is not
// authorized; records then stay local with an error flag.
func New(lm *ledger.Manager, store *storage.Store, remote Remote, repairer Repairer, threshold float64) *Reconciler {
	return &Reconciler{
		ledger:              lm,
		store:               store,
		remote:              remote,
		repairer:            repairer,
		AutoAcceptThreshold: threshold,
	}
}

// SetRemote swaps in the calendar client once authorization completes, so a
// server started in local-only mode begins syncing without a restart.
func (r *Reconciler) SetRemote(remote Remote) {
	r.mu.Lock()
	r.remote = remote
	r.mu.Unlock()
}

func (r *Reconciler) getRemote() Remote {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.remote
}

// applyPayload is the queue payload for JobTypeApplyAction jobs.
type applyPayload struct {
	Action       intent.ProposedAction `json:"action"`
	OriginalText string                `json:"original_text"`
}

// ProcessAuto splits extracted actions by confidence: actions at or above
// the threshold are enqueued for sequential application, the rest are
// returned for user confirmation. IGNORE actions are dropped.
func (r *Reconciler) ProcessAuto(actions []intent.ProposedAction, originalText string) (enqueued int, pending []intent.ProposedAction, err error) {
	for _, a := range actions {
		if a.Type == intent.ActionIgnore {
			slog.Debug("ignoring action", "reasoning", a.Reasoning)
			continue
		}
		if a.Confidence < r.AutoAcceptThreshold {
			pending = append(pending, a)
			continue
		}
		if err := r.Enqueue(a, originalText); err != nil {
			return enqueued, pending, err
		}
		enqueued++
	}
	return enqueued, pending, nil
}

// Enqueue queues a single action for application by the worker. Queued jobs
// are claimed one at a time, which keeps application sequential.
func (r *Reconciler) Enqueue(action intent.ProposedAction, originalText string) error {
	payload, err := json.Marshal(applyPayload{Action: action, OriginalText: originalText})
	if err != nil {
		return fmt.Errorf("marshal action payload: %w", err)
	}
	if err := r.store.EnqueueJob(storage.Job{
		ID:          uuid.NewString(),
		Type:        JobTypeApplyAction,
		PayloadJSON: string(payload),
	}); err != nil {
		return fmt.Errorf("enqueue action: %w", err)
	}
	return nil
}

// ApplyJob decodes a queued action and applies it.
func (r *Reconciler) ApplyJob(ctx context.Context, payloadJSON string) error {
	var p applyPayload
	if err := json.Unmarshal([]byte(payloadJSON), &p); err != nil {
		return fmt.Errorf("unmarshal action payload: %w", err)
	}
	_, err := r.Apply(ctx, p.Action, p.OriginalText)
	return err
}

// Apply merges one action into the ledger, then attempts the remote write.
// The returned record reflects the final ledger state: synced on success,
// or carrying a sync error when the remote write could not be completed.
// An error return means the ledger itself could not be updated.
func (r *Reconciler) Apply(ctx context.Context, action intent.ProposedAction, originalText string) (*storage.EventRecord, error) {
	switch action.Type {
	case intent.ActionCreate, intent.ActionUpdate, intent.ActionMove:
		if action.Event == nil {
			return nil, fmt.Errorf("%s action carries no event data", action.Type)
		}
	}

	switch action.Type {
	case intent.ActionCreate:
		rec, err := r.ledger.CreateFromDraft(*action.Event, originalText)
		if err != nil {
			return nil, err
		}
		return r.sync(ctx, rec)

	case intent.ActionUpdate:
		rec, err := r.ledger.ApplyUpdate(action.TargetLocalID, *action.Event, originalText)
		if err != nil {
			return nil, err
		}
		return r.sync(ctx, rec)

	case intent.ActionMove:
		return r.applyMove(ctx, action, originalText)

	case intent.ActionIgnore:
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown action type %q", action.Type)
	}
}

// applyMove records the event locally, then transfers it from the source
// calendar onto the target calendar. A source event the ledger already
// tracks updates the existing record instead of creating a duplicate.
func (r *Reconciler) applyMove(ctx context.Context, action intent.ProposedAction, originalText string) (*storage.EventRecord, error) {
	rec, err := r.ledger.FindByRemote(action.SourceEventID)
	switch {
	case err == nil:
		rec, err = r.ledger.ApplyUpdate(rec.LocalID, *action.Event, originalText)
		if err != nil {
			return nil, err
		}
	case errors.Is(err, storage.ErrNotFound):
		rec, err = r.ledger.CreateFromDraft(*action.Event, originalText)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	remote := r.getRemote()
	if remote == nil {
		return r.recordFailure(rec, calendar.ErrNotAuthorized)
	}

	movedID, err := remote.Move(ctx, action.SourceCalendarID, action.SourceEventID)
	if err != nil {
		return r.recordFailure(rec, err)
	}
	if err := r.ledger.AdoptRemote(rec.LocalID, movedID); err != nil {
		return nil, err
	}

	// Apply the draft's field changes on the moved event. A failure here
	// leaves the event moved but flags the record for retry.
	if err := remote.Update(ctx, movedID, recordPayload(rec)); err != nil {
		return r.recordFailure(rec, err)
	}

	final, err := r.ledger.Get(rec.LocalID)
	if err != nil {
		return nil, err
	}
	return &final, nil
}

// sync pushes the record to the remote calendar. Placeholder records are
// inserted, already-linked records are updated. A rejection triggers one
// repair round; a second failure flags the record for manual retry.
func (r *Reconciler) sync(ctx context.Context, rec storage.EventRecord) (*storage.EventRecord, error) {
	remote := r.getRemote()
	if remote == nil {
		return r.recordFailure(rec, calendar.ErrNotAuthorized)
	}

	err := r.push(ctx, remote, &rec, recordPayload(rec))
	if err == nil {
		final, gerr := r.ledger.Get(rec.LocalID)
		if gerr != nil {
			return nil, gerr
		}
		return &final, nil
	}

	rej, ok := calendar.AsRejection(err)
	if !ok || r.repairer == nil {
		return r.recordFailure(rec, err)
	}

	// One repair attempt, never more.
	repaired, rerr := r.repairer.Repair(ctx, recordDraft(rec), rej.Message)
	if rerr != nil {
		slog.Warn("payload repair failed", "local_id", rec.LocalID, "error", rerr)
		return r.recordFailure(rec, err)
	}

	if err := r.push(ctx, remote, &rec, draftPayload(*repaired)); err != nil {
		return r.recordFailure(rec, err)
	}

	// The remote accepted the repaired payload; fold it back into the
	// ledger in one write so local and remote agree.
	final, err := r.ledger.AdoptRepaired(rec.LocalID, rec.GCalID, *repaired)
	if err != nil {
		return nil, err
	}
	return &final, nil
}

// push performs the raw remote write and records a successful link.
func (r *Reconciler) push(ctx context.Context, remote Remote, rec *storage.EventRecord, payload calendar.EventPayload) error {
	if ledger.IsPlaceholder(rec.GCalID) {
		gcalID, err := remote.Insert(ctx, payload)
		if err != nil {
			return err
		}
		rec.GCalID = gcalID
		return r.ledger.AdoptRemote(rec.LocalID, gcalID)
	}

	if err := remote.Update(ctx, rec.GCalID, payload); err != nil {
		return err
	}
	return r.ledger.AdoptRemote(rec.LocalID, rec.GCalID)
}

// Retry re-attempts the remote write for a record that previously failed.
// No repair round here; the payload goes out as stored.
func (r *Reconciler) Retry(ctx context.Context, localID string) (*storage.EventRecord, error) {
	rec, err := r.ledger.Get(localID)
	if err != nil {
		return nil, err
	}

	remote := r.getRemote()
	if remote == nil {
		return r.recordFailure(rec, calendar.ErrNotAuthorized)
	}
	if err := r.push(ctx, remote, &rec, recordPayload(rec)); err != nil {
		return r.recordFailure(rec, err)
	}

	final, err := r.ledger.Get(localID)
	if err != nil {
		return nil, err
	}
	return &final, nil
}

// recordFailure flags the record with the sync error and returns its final
// state. Remote failures are never fatal.
func (r *Reconciler) recordFailure(rec storage.EventRecord, cause error) (*storage.EventRecord, error) {
	msg := cause.Error()
	if errors.Is(cause, calendar.ErrNotAuthorized) {
		msg = "calendar not authorized"
	}
	slog.Warn("remote write failed, keeping local record", "local_id", rec.LocalID, "error", cause)

	if err := r.ledger.MarkError(rec.LocalID, msg); err != nil {
		return nil, err
	}
	final, err := r.ledger.Get(rec.LocalID)
	if err != nil {
		return nil, err
	}
	return &final, nil
}

func recordPayload(rec storage.EventRecord) calendar.EventPayload {
	return calendar.EventPayload{
		Summary:     rec.Summary,
		Description: rec.Description,
		Location:    rec.Location,
		StartTime:   rec.StartTime,
		EndTime:     rec.EndTime,
	}
}

func recordDraft(rec storage.EventRecord) intent.EventDraft {
	return intent.EventDraft{
		Summary:     rec.Summary,
		Description: rec.Description,
		Location:    rec.Location,
		StartTime:   rec.StartTime,
		EndTime:     rec.EndTime,
	}
}

func draftPayload(d intent.EventDraft) calendar.EventPayload {
	return calendar.EventPayload{
		Summary:     d.Summary,
		Description: d.Description,
		Location:    d.Location,
		StartTime:   d.StartTime,
		EndTime:     d.EndTime,
	}
}
