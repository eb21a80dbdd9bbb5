// Package ordering maintains the dense total order of instances within a
// layout and performs atomic whole-layout reordering.
package ordering

import (
	"context"
	"sort"

	"github.com/platformkit/composer/internal/app/domain/instance"
	"github.com/platformkit/composer/internal/app/storage"
	"github.com/platformkit/composer/internal/errors"
	"github.com/platformkit/composer/internal/logging"
)

// Controller computes order permutations and commits them through the
// instance store's atomic batch. After any committed operation the order
// values of a layout's live instances are exactly 0..N-1.
type Controller struct {
	store storage.InstanceStore
	log   *logging.Logger
}

// New constructs an ordering controller.
func New(store storage.InstanceStore, log *logging.Logger) *Controller {
	if log == nil {
		log = logging.NewDefault("ordering")
	}
	return &Controller{store: store, log: log}
}

// Sequence returns the layout's instances in display order. Instances with
// equal order ranks (a consistency violation that escaped an atomic commit)
// are resolved deterministically by ID and reported, never raised.
func (c *Controller) Sequence(ctx context.Context, layoutID string) ([]instance.Instance, error) {
	instances, err := c.store.ListByLayout(ctx, layoutID)
	if err != nil {
		return nil, err
	}
	sort.Sort(instance.ByOrder(instances))

	seen := make(map[int]string, len(instances))
	for _, in := range instances {
		if other, dup := seen[in.Order]; dup {
			c.log.WithField("layout_id", layoutID).
				WithField("order", in.Order).
				WithField("instances", []string{other, in.ID}).
				Warn("duplicate order rank detected; resolved by instance id")
		}
		seen[in.Order] = in.ID
	}
	return instances, nil
}

// Move removes the instance from its current position, inserts it at
// newIndex (clamped to the live range) and reassigns every rank in a single
// atomic commit. Concurrent readers observe the pre-move or post-move
// permutation, never an intermediate one.
func (c *Controller) Move(ctx context.Context, layoutID, instanceID string, newIndex int) error {
	instances, err := c.Sequence(ctx, layoutID)
	if err != nil {
		return err
	}

	fromIndex := -1
	for i, in := range instances {
		if in.ID == instanceID {
			fromIndex = i
			break
		}
	}
	if fromIndex == -1 {
		return errors.NotFound("instance", instanceID)
	}

	if newIndex < 0 {
		newIndex = 0
	}
	if newIndex > len(instances)-1 {
		newIndex = len(instances) - 1
	}
	if newIndex == fromIndex {
		return nil
	}

	ids := make([]string, 0, len(instances))
	for _, in := range instances {
		ids = append(ids, in.ID)
	}
	ids = append(ids[:fromIndex], ids[fromIndex+1:]...)
	ids = append(ids[:newIndex], append([]string{instanceID}, ids[newIndex:]...)...)

	orders := make(map[string]int, len(ids))
	for rank, id := range ids {
		orders[id] = rank
	}
	if err := c.store.ReplaceOrder(ctx, orders); err != nil {
		return err
	}

	c.log.WithField("layout_id", layoutID).
		WithField("instance_id", instanceID).
		WithField("new_index", newIndex).
		Info("layout reordered")
	return nil
}

// Compact reassigns 0..N-1 to the surviving instances preserving their
// relative sequence. Invoked after deletes and by the audit sweep; a layout
// that is already dense commits nothing.
func (c *Controller) Compact(ctx context.Context, layoutID string) error {
	instances, err := c.Sequence(ctx, layoutID)
	if err != nil {
		return err
	}

	orders := make(map[string]int, len(instances))
	dense := true
	for rank, in := range instances {
		orders[in.ID] = rank
		if in.Order != rank {
			dense = false
		}
	}
	if dense {
		return nil
	}
	return c.store.ReplaceOrder(ctx, orders)
}

// IsDense reports whether the layout's order ranks are exactly 0..N-1.
func (c *Controller) IsDense(ctx context.Context, layoutID string) (bool, error) {
	instances, err := c.store.ListByLayout(ctx, layoutID)
	if err != nil {
		return false, err
	}
	seen := make(map[int]bool, len(instances))
	for _, in := range instances {
		if in.Order < 0 || in.Order >= len(instances) || seen[in.Order] {
			return false, nil
		}
		seen[in.Order] = true
	}
	return true, nil
}
