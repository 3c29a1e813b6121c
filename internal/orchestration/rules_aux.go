package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tideline-labs/tideline-go/internal/domain"
)

// defaultOffloadThreshold is the state data size above which payloads move
// to the object store instead of the run row.
const defaultOffloadThreshold = 32 * 1024

// StateDataStore persists large state payloads outside the database.
type StateDataStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// Notifier fans a committed transition out to interested parties.
type Notifier interface {
	NotifyTransition(ctx context.Context, run domain.Run, from, to domain.State) error
}

// auditTransitionRule appends one audit event per committed transition. It
// writes in After so discarded attempts leave no trace, and through the
// attempt's transaction so the trail cannot outlive a rollback.
type auditTransitionRule struct {
	baseRule
}

func (r *auditTransitionRule) Name() string { return "audit-transition" }

func (r *auditTransitionRule) Governs(from, to domain.StateType) bool { return true }

func (r *auditTransitionRule) Before(ctx context.Context, t *Context) (Decision, error) {
	return Approve(), nil
}

func (r *auditTransitionRule) After(ctx context.Context, t *Context) error {
	state := t.ValidatedState
	if state == nil {
		return nil
	}
	event := domain.AuditEvent{
		Action: "run.transition",
		RunID:  t.Run.ID,
		Payload: map[string]any{
			"from":       string(t.FromType()),
			"to":         string(state.Type),
			"state_name": state.Name,
			"state_id":   state.ID,
			"run_count":  t.Run.RunCount,
		},
	}
	if err := t.Tx.AppendAuditEvent(ctx, event); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// offloadStateDataRule moves oversized proposed-state payloads into the
// object store, leaving a reference in the row. The uploaded object is
// removed again if a later rule discards the attempt.
type offloadStateDataRule struct {
	store     StateDataStore
	threshold int
}

type stateDataRef struct {
	Kind string `json:"kind"`
	Key  string `json:"key"`
	Size int    `json:"size"`
}

func (r *offloadStateDataRule) Name() string { return "offload-state-data" }

func (r *offloadStateDataRule) Governs(from, to domain.StateType) bool { return true }

func (r *offloadStateDataRule) Before(ctx context.Context, t *Context) (Decision, error) {
	data := t.ProposedState.Data
	if len(data) <= r.threshold {
		return Approve(), nil
	}
	key := fmt.Sprintf("runs/%s/states/%s", t.Run.ID, t.ProposedState.ID)
	if err := r.store.Put(ctx, key, data); err != nil {
		return Decision{}, fmt.Errorf("offload state data: %w", err)
	}
	ref, err := json.Marshal(stateDataRef{Kind: "objectstore", Key: key, Size: len(data)})
	if err != nil {
		return Decision{}, fmt.Errorf("encode state data ref: %w", err)
	}
	t.ProposedState.Data = ref
	t.Scratch[r.Name()] = key
	return Approve(), nil
}

func (r *offloadStateDataRule) After(ctx context.Context, t *Context) error { return nil }

func (r *offloadStateDataRule) Cleanup(ctx context.Context, t *Context) error {
	key, ok := t.Scratch[r.Name()].(string)
	if !ok {
		return nil
	}
	if err := r.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("remove offloaded state data: %w", err)
	}
	delete(t.Scratch, r.Name())
	return nil
}

// notifyTransitionRule fans approved transitions out from the After hook.
// The notification escapes the transaction, so a commit that fails after
// the hook ran can emit a notification for a transition that never became
// durable; consumers must treat notifications as hints and confirm against
// the store. A failing notifier is logged, not propagated: notification is
// additive and must never undo a transition.
type notifyTransitionRule struct {
	baseRule
	notifier Notifier
	logger   *slog.Logger
}

func (r *notifyTransitionRule) Name() string { return "notify-transition" }

func (r *notifyTransitionRule) Governs(from, to domain.StateType) bool { return true }

func (r *notifyTransitionRule) Before(ctx context.Context, t *Context) (Decision, error) {
	return Approve(), nil
}

func (r *notifyTransitionRule) After(ctx context.Context, t *Context) error {
	if t.ValidatedState == nil {
		return nil
	}
	if err := r.notifier.NotifyTransition(ctx, *t.Run, t.InitialState, *t.ValidatedState); err != nil {
		r.logger.Warn("transition notification failed",
			"run_id", t.Run.ID,
			"to", string(t.ValidatedState.Type),
			"error", err,
		)
	}
	return nil
}
