// Package selection tracks which cart lines are checked for checkout. All
// selected lines always belong to one store.
package selection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cartsync/internal/domain"
	"cartsync/internal/notify"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const singleStoreMessage = "You can only check out from one store at a time."

type cartReader interface {
	Snapshot() domain.Snapshot
}

type intentRepo interface {
	Save(ctx context.Context, in domain.CheckoutIntent) error
	Load(ctx context.Context, owner string) (*domain.CheckoutIntent, error)
	Delete(ctx context.Context, owner string) error
}

type Service struct {
	cart     cartReader
	intents  intentRepo
	owner    func() string
	ttl      time.Duration
	notifier notify.Notifier
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string

	mu       sync.Mutex
	selected map[string]struct{}
}

// New builds the selection service. owner names the cart owner used as the
// hand-off key; ttl bounds how long a checkout intent stays readable.
func New(cart cartReader, intents intentRepo, owner func() string, ttl time.Duration, notifier notify.Notifier, logger *zap.Logger) *Service {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cart:     cart,
		intents:  intents,
		owner:    owner,
		ttl:      ttl,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
		selected: map[string]struct{}{},
	}
}

// Toggle flips one line. Selecting a line from another store replaces the
// whole selection with that line.
func (s *Service) Toggle(id string) ([]string, error) {
	// The cart is read under s.mu so a concurrent removal's Prune runs
	// after this change, not before it.
	s.mu.Lock()
	snap := s.cart.Snapshot()
	idx := snap.Find(id)
	if idx < 0 {
		s.mu.Unlock()
		return s.Selected(), domain.ErrNotFound
	}
	target := snap.Items[idx]
	if _, ok := s.selected[id]; ok {
		delete(s.selected, id)
		s.mu.Unlock()
		return s.Selected(), nil
	}
	evicted := s.otherStoreLocked(snap, target.StoreID)
	if evicted {
		clear(s.selected)
	}
	s.selected[id] = struct{}{}
	s.mu.Unlock()

	if evicted {
		s.singleStore(target.StoreID)
	}
	return s.Selected(), nil
}

// ToggleStore selects every line of storeID, or deselects them all when they
// are already all selected.
func (s *Service) ToggleStore(storeID string) ([]string, error) {
	s.mu.Lock()
	snap := s.cart.Snapshot()
	var ids []string
	for _, it := range snap.Items {
		if it.StoreID == storeID {
			ids = append(ids, it.ID)
		}
	}
	if len(ids) == 0 {
		s.mu.Unlock()
		return s.Selected(), domain.ErrNotFound
	}

	all := true
	for _, id := range ids {
		if _, ok := s.selected[id]; !ok {
			all = false
			break
		}
	}
	var evicted bool
	if all {
		for _, id := range ids {
			delete(s.selected, id)
		}
	} else {
		evicted = s.otherStoreLocked(snap, storeID)
		if evicted {
			clear(s.selected)
		}
		for _, id := range ids {
			s.selected[id] = struct{}{}
		}
	}
	s.mu.Unlock()

	if evicted {
		s.singleStore(storeID)
	}
	return s.Selected(), nil
}

// Prune drops selected ids missing from snap. It is registered as a cart
// change listener and must not be called with the cart's lock held.
func (s *Service) Prune(snap domain.Snapshot) {
	stores := make(map[string]string, len(snap.Items))
	for _, it := range snap.Items {
		stores[it.ID] = it.StoreID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]struct{}{}
	for id := range s.selected {
		store, ok := stores[id]
		if !ok {
			delete(s.selected, id)
			continue
		}
		seen[store] = struct{}{}
	}
	// A reconciliation may move a line to another store.
	if len(seen) > 1 {
		s.logger.Debug("selection spans stores after reconcile, clearing")
		clear(s.selected)
	}
}

// Selected returns the selected ids in cart order.
func (s *Service) Selected() []string {
	items := s.Items()
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

// Items returns the selected lines in cart order.
func (s *Service) Items() []domain.CartLineItem {
	snap := s.cart.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.CartLineItem{}
	for _, it := range snap.Items {
		if _, ok := s.selected[it.ID]; ok {
			out = append(out, it)
		}
	}
	return out
}

// Clear empties the selection.
func (s *Service) Clear() {
	s.mu.Lock()
	clear(s.selected)
	s.mu.Unlock()
}

// Checkout hands the selected lines to the checkout step. The intent is
// returned directly and also persisted under the owner's namespaced key
// until it expires.
func (s *Service) Checkout(ctx context.Context) (domain.CheckoutIntent, error) {
	items := s.Items()
	if len(items) == 0 {
		s.notifier.Notify(notify.Notice{
			Level:   notify.LevelWarn,
			Code:    notify.CodeValidation,
			Message: "Select at least one item to check out.",
		})
		return domain.CheckoutIntent{}, domain.ErrEmptySelection
	}

	now := s.now().UTC()
	in := domain.CheckoutIntent{
		ID:        s.newID(),
		Owner:     s.owner(),
		StoreID:   items[0].StoreID,
		Items:     items,
		Total:     domain.Snapshot{Items: items}.Total(),
		CreatedAt: now,
	}
	if s.ttl > 0 {
		in.ExpiresAt = now.Add(s.ttl)
	}
	if err := s.intents.Save(ctx, in); err != nil {
		return domain.CheckoutIntent{}, fmt.Errorf("save checkout intent: %w", err)
	}
	s.logger.Info("checkout intent created",
		zap.String("intent_id", in.ID),
		zap.String("store_id", in.StoreID),
		zap.Int("items", len(items)))
	return in, nil
}

// Intent reads back the owner's pending checkout intent.
func (s *Service) Intent(ctx context.Context) (*domain.CheckoutIntent, error) {
	in, err := s.intents.Load(ctx, s.owner())
	if errors.Is(err, domain.ErrIntentExpired) {
		if derr := s.intents.Delete(ctx, s.owner()); derr != nil {
			s.logger.Warn("delete expired intent failed", zap.Error(derr))
		}
	}
	return in, err
}

// Discard forgets the owner's pending intent, e.g. on logout.
func (s *Service) Discard(ctx context.Context, owner string) error {
	return s.intents.Delete(ctx, owner)
}

func (s *Service) otherStoreLocked(snap domain.Snapshot, storeID string) bool {
	for _, it := range snap.Items {
		if _, ok := s.selected[it.ID]; ok && it.StoreID != storeID {
			return true
		}
	}
	return false
}

func (s *Service) singleStore(storeID string) {
	s.logger.Debug("selection moved to another store", zap.String("store_id", storeID))
	s.notifier.Notify(notify.Notice{
		Level:   notify.LevelInfo,
		Code:    notify.CodeSingleStore,
		Message: singleStoreMessage,
	})
}
