// Package session implements the composition session: the stateful editing
// context a builder holds on one platform layout. A session subscribes to the
// layout's live instance feed and overlays its own optimistic mutations until
// the next authoritative push reconciles them.
package session

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/platformkit/composer/internal/app/domain/instance"
	"github.com/platformkit/composer/internal/app/domain/platform"
	"github.com/platformkit/composer/internal/app/services/instances"
	"github.com/platformkit/composer/internal/app/services/ordering"
	"github.com/platformkit/composer/internal/app/services/platforms"
	"github.com/platformkit/composer/internal/app/services/render"
	"github.com/platformkit/composer/internal/app/storage"
	"github.com/platformkit/composer/internal/auth"
	"github.com/platformkit/composer/internal/errors"
	"github.com/platformkit/composer/internal/logging"
	"github.com/platformkit/composer/internal/metrics"
)

// State is the session lifecycle state.
type State string

const (
	// StateLoading covers the initial platform and layout resolution.
	StateLoading State = "loading"
	// StateReady accepts mutations and serves snapshots.
	StateReady State = "ready"
	// StateMutating is Ready with one or more persistence calls in flight.
	StateMutating State = "mutating"
	// StateError is terminal; only reachable from Loading.
	StateError State = "error"
	// StateClosed is terminal; the subscription is cancelled.
	StateClosed State = "closed"
)

// Manager opens composition sessions.
type Manager struct {
	platforms *platforms.Service
	instances *instances.Service
	order     *ordering.Controller
	store     storage.InstanceStore
	render    *render.Service
	metrics   *metrics.Metrics
	log       *logging.Logger
}

// NewManager constructs a session manager. render may be nil when no snapshot
// cache needs invalidating; m may be nil when sessions go uninstrumented.
func NewManager(p *platforms.Service, inst *instances.Service, order *ordering.Controller, store storage.InstanceStore, r *render.Service, m *metrics.Metrics, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.NewDefault("session")
	}
	return &Manager{
		platforms: p,
		instances: inst,
		order:     order,
		store:     store,
		render:    r,
		metrics:   m,
		log:       log,
	}
}

// Session is one builder's editing context on one layout.
type Session struct {
	m     *Manager
	actor auth.Actor
	log   *logging.Logger

	mu         sync.Mutex
	state      State
	err        error
	inflight   int
	platform   platform.Platform
	layout     platform.Layout
	confirmed  []instance.Instance
	pending    []instance.Instance
	sub        storage.InstanceSubscription
	updates    chan []instance.Instance
	done       chan struct{}
	gaugeClose func()
}

// Open loads a session for the actor on one layout. On load failure the
// returned session is in its terminal Error state and the error is returned
// alongside it.
func (m *Manager) Open(ctx context.Context, actor auth.Actor, platformID, layoutID string) (*Session, error) {
	s := &Session{
		m:       m,
		actor:   actor,
		log:     m.log.WithField("platform_id", platformID).WithField("layout_id", layoutID),
		state:   StateLoading,
		updates: make(chan []instance.Instance, 1),
		done:    make(chan struct{}),
	}

	p, err := m.platforms.Get(ctx, platformID)
	if err != nil {
		return s, s.fail(err)
	}
	if !canView(actor, p) {
		return s, s.fail(errors.PermissionDenied("actor %s may not open platform %s", actor.ID, platformID))
	}

	layout, err := m.platforms.GetLayout(ctx, layoutID)
	if err != nil {
		return s, s.fail(err)
	}
	if layout.PlatformID != platformID {
		return s, s.fail(errors.Validation("layout %s does not belong to platform %s", layoutID, platformID))
	}

	sub, err := m.store.WatchLayout(ctx, layoutID)
	if err != nil {
		return s, s.fail(err)
	}

	s.mu.Lock()
	s.platform = p
	s.layout = layout
	s.sub = sub
	s.state = StateReady
	if m.metrics != nil {
		s.gaugeClose = m.metrics.SessionOpened()
	}
	s.mu.Unlock()

	go s.pump()
	s.log.WithField("actor_id", actor.ID).Info("session opened")
	return s, nil
}

// canView gates session opening: global admins, platform admins, and actors
// of the owning tenant.
func canView(actor auth.Actor, p platform.Platform) bool {
	if auth.CanMutate(actor, p) {
		return true
	}
	return p.TenantID != "" && actor.TenantID == p.TenantID
}

// fail moves a loading session into its terminal error state.
func (s *Session) fail(err error) error {
	s.mu.Lock()
	s.state = StateError
	s.err = err
	s.mu.Unlock()
	close(s.done)
	return err
}

// pump forwards authoritative pushes. Every push replaces the confirmed
// snapshot and discards all pending optimistic state: the push always wins.
func (s *Session) pump() {
	for snapshot := range s.sub.Updates() {
		s.mu.Lock()
		s.confirmed = snapshot
		s.pending = nil
		s.mu.Unlock()
		s.publish(snapshot)
	}
}

// publish hands a snapshot to the updates channel, dropping the stale one if
// the consumer lags.
func (s *Session) publish(snapshot []instance.Instance) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- snapshot:
	default:
	}
}

// State returns the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the load error of a session in the Error state.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Updates streams overlaid snapshots: optimistic ones immediately after each
// local mutation, authoritative ones on every push.
func (s *Session) Updates() <-chan []instance.Instance {
	return s.updates
}

// Snapshot returns the current view: the optimistic overlay when a mutation
// is awaiting its push, otherwise the last confirmed state.
func (s *Session) Snapshot() []instance.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSnapshot(s.snapshotLocked())
}

func (s *Session) snapshotLocked() []instance.Instance {
	if s.pending != nil {
		return s.pending
	}
	return s.confirmed
}

// Close cancels the subscription. Closed is terminal.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateError {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	sub := s.sub
	gaugeClose := s.gaugeClose
	s.mu.Unlock()

	close(s.done)
	if sub != nil {
		sub.Close()
	}
	if gaugeClose != nil {
		gaugeClose()
	}
	s.log.Info("session closed")
}

// begin checks the actor and state machine before a mutation. Dispatches do
// not serialize: an edit is accepted while earlier persists are still
// outstanding, and a later edit on the same target supersedes the earlier
// overlay entry.
func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateReady, StateMutating:
	default:
		return errors.Validation("session is %s", s.state)
	}
	if !auth.CanMutate(s.actor, s.platform) {
		return errors.PermissionDenied("actor %s may not mutate platform %s", s.actor.ID, s.platform.ID)
	}
	s.inflight++
	s.state = StateMutating
	return nil
}

// finish retires one outstanding persist, returning the session to Ready once
// none remain. Persistence failures do not roll the optimistic overlay back;
// the next authoritative push reconciles it.
func (s *Session) finish(err error) {
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	if s.state == StateMutating && s.inflight == 0 {
		s.state = StateReady
	}
	platformID := s.platform.ID
	s.mu.Unlock()
	if err == nil && s.m.render != nil {
		s.m.render.Invalidate(context.Background(), platformID)
	}
}

// AddInstance places a component at the end of the layout.
func (s *Session) AddInstance(ctx context.Context, definitionID string) (instance.Instance, error) {
	if err := s.begin(); err != nil {
		return instance.Instance{}, err
	}

	s.mu.Lock()
	overlay := cloneSnapshot(s.snapshotLocked())
	optimistic := instance.Instance{
		ID:           "pending-" + uuid.NewString(),
		DefinitionID: definitionID,
		PlatformID:   s.platform.ID,
		LayoutID:     s.layout.ID,
		Order:        len(overlay),
		Values:       map[string]any{},
	}
	overlay = append(overlay, optimistic)
	s.pending = overlay
	s.mu.Unlock()
	s.publish(overlay)

	in, err := s.m.instances.Add(ctx, definitionID, s.platform.ID, s.layout.ID)
	s.finish(err)
	if err != nil {
		return instance.Instance{}, err
	}
	return in, nil
}

// UpdateProperty writes one property edit.
func (s *Session) UpdateProperty(ctx context.Context, instanceID, property string, value any) error {
	if err := s.begin(); err != nil {
		return err
	}

	s.mu.Lock()
	overlay := cloneSnapshot(s.snapshotLocked())
	for i := range overlay {
		if overlay[i].ID == instanceID {
			if overlay[i].Values == nil {
				overlay[i].Values = map[string]any{}
			}
			overlay[i].Values[property] = value
			break
		}
	}
	s.pending = overlay
	s.mu.Unlock()
	s.publish(overlay)

	_, err := s.m.instances.UpdateValue(ctx, instanceID, property, value)
	s.finish(err)
	return err
}

// Reorder moves an instance to a new position.
func (s *Session) Reorder(ctx context.Context, instanceID string, newIndex int) error {
	if err := s.begin(); err != nil {
		return err
	}

	s.mu.Lock()
	overlay := reorderOverlay(cloneSnapshot(s.snapshotLocked()), instanceID, newIndex)
	s.pending = overlay
	s.mu.Unlock()
	s.publish(overlay)

	err := s.m.order.Move(ctx, s.layout.ID, instanceID, newIndex)
	s.finish(err)
	return err
}

// DeleteInstance removes an instance and renumbers the remainder.
func (s *Session) DeleteInstance(ctx context.Context, instanceID string) error {
	if err := s.begin(); err != nil {
		return err
	}

	s.mu.Lock()
	overlay := cloneSnapshot(s.snapshotLocked())
	kept := overlay[:0]
	for _, in := range overlay {
		if in.ID != instanceID {
			in.Order = len(kept)
			kept = append(kept, in)
		}
	}
	s.pending = kept
	s.mu.Unlock()
	s.publish(kept)

	err := s.m.instances.Delete(ctx, instanceID)
	s.finish(err)
	return err
}

// SavePlatformMetadata edits the platform's builder-facing metadata.
func (s *Session) SavePlatformMetadata(ctx context.Context, name, description, purpose string) error {
	if err := s.begin(); err != nil {
		return err
	}

	p, err := s.m.platforms.UpdateMetadata(ctx, s.platform.ID, name, description, purpose)
	if err == nil {
		s.mu.Lock()
		s.platform = p
		s.mu.Unlock()
	}
	s.finish(err)
	return err
}

// Platform returns the session's platform as last loaded or saved.
func (s *Session) Platform() platform.Platform {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.platform
}

// Layout returns the session's layout.
func (s *Session) Layout() platform.Layout {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layout
}

// reorderOverlay mirrors the persisted move locally: clamp, splice, renumber.
func reorderOverlay(snapshot []instance.Instance, instanceID string, newIndex int) []instance.Instance {
	from := -1
	for i := range snapshot {
		if snapshot[i].ID == instanceID {
			from = i
			break
		}
	}
	if from == -1 {
		return snapshot
	}
	if newIndex < 0 {
		newIndex = 0
	}
	if newIndex > len(snapshot)-1 {
		newIndex = len(snapshot) - 1
	}

	moved := snapshot[from]
	rest := append(append([]instance.Instance{}, snapshot[:from]...), snapshot[from+1:]...)
	out := append(append(append([]instance.Instance{}, rest[:newIndex]...), moved), rest[newIndex:]...)
	for i := range out {
		out[i].Order = i
	}
	return out
}

func cloneSnapshot(snapshot []instance.Instance) []instance.Instance {
	out := make([]instance.Instance, len(snapshot))
	for i, in := range snapshot {
		out[i] = in.Clone()
	}
	return out
}
