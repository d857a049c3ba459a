// Package cart is the Cart Store: the single in-process source of truth for
// cart contents, mirrored from the backend and persisted locally.
package cart

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"cartsync/internal/domain"
	"cartsync/internal/notify"
	"cartsync/internal/remote"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// GuestOwner keys the persisted cart of an unauthenticated client.
const GuestOwner = "guest"

type remoteClient interface {
	FetchCart(ctx context.Context) ([]domain.CartLineItem, error)
	AddItem(ctx context.Context, req remote.AddRequest) error
	UpdateQuantity(ctx context.Context, itemID string, quantity int) error
	RemoveItem(ctx context.Context, itemID string) error
}

type snapshotRepo interface {
	Save(ctx context.Context, owner string, snap domain.Snapshot) error
	Load(ctx context.Context, owner string) (*domain.Snapshot, error)
	Delete(ctx context.Context, owner string) error
}

type sessionInfo interface {
	Authenticated() bool
	UserID() string
}

// Broadcaster sends cartUpdated events to the user's other sessions.
type Broadcaster interface {
	Emit(ctx context.Context, snap domain.Snapshot) error
}

// NewLine is what a product page hands to AddToCart.
type NewLine struct {
	ProductID string            `json:"productId"`
	StoreID   string            `json:"storeId"`
	Name      string            `json:"name,omitempty"`
	Quantity  int               `json:"quantity"`
	UnitPrice decimal.Decimal   `json:"unitPrice"`
	SalePrice *decimal.Decimal  `json:"salePrice,omitempty"`
	Variation *domain.Variation `json:"variation,omitempty"`
}

type Service struct {
	remote   remoteClient
	repo     snapshotRepo
	session  sessionInfo
	notifier notify.Notifier
	logger   *zap.Logger
	newID    func() string
	now      func() time.Time

	mu          sync.Mutex
	items       []domain.CartLineItem
	count       int
	issued      uint64
	applied     uint64
	broadcaster Broadcaster
	listeners   []func(domain.Snapshot)

	persistMu      sync.Mutex
	persisted      uint64
	persistedOwner string
}

func New(client remoteClient, repo snapshotRepo, session sessionInfo, notifier notify.Notifier, logger *zap.Logger) *Service {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		remote:   client,
		repo:     repo,
		session:  session,
		notifier: notifier,
		logger:   logger,
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// SetBroadcaster installs the live channel once it exists.
func (s *Service) SetBroadcaster(b Broadcaster) {
	s.mu.Lock()
	s.broadcaster = b
	s.mu.Unlock()
}

// OnChange registers fn to receive every applied snapshot.
func (s *Service) OnChange(fn func(domain.Snapshot)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Snapshot returns a copy of the current cart.
func (s *Service) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Count is the header badge value.
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Lookup returns the line with the given id.
func (s *Service) Lookup(id string) (domain.CartLineItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.ID == id {
			return it.Clone(), true
		}
	}
	return domain.CartLineItem{}, false
}

// AddToCart merges in with an existing line of the same product and
// variation, or appends a new line with a client-generated id. Signed-in
// carts are then written to the backend and reconciled.
func (s *Service) AddToCart(ctx context.Context, in NewLine) (domain.Snapshot, error) {
	in.ProductID = strings.TrimSpace(in.ProductID)
	if in.ProductID == "" {
		s.invalid("Choose a product to add.")
		return s.Snapshot(), errors.New("productId required")
	}
	if in.Quantity < 1 {
		s.invalid("Quantity must be at least 1.")
		return s.Snapshot(), domain.ErrInvalidQuantity
	}

	line := domain.CartLineItem{
		ProductID: in.ProductID,
		StoreID:   in.StoreID,
		Name:      in.Name,
		Quantity:  in.Quantity,
		UnitPrice: in.UnitPrice,
		SalePrice: in.SalePrice,
		Variation: in.Variation,
	}.Clone()

	s.mu.Lock()
	items := domain.CloneItems(s.items)
	var undo func([]domain.CartLineItem) []domain.CartLineItem
	merged := false
	for i := range items {
		if !items[i].SameLine(line) {
			continue
		}
		prev := items[i].Clone()
		items[i].Quantity += in.Quantity
		items[i].Recompute()
		want := items[i].Quantity
		undo = restoreLine(prev, want)
		merged = true
		break
	}
	if !merged {
		line.ID = s.newID()
		line.Recompute()
		items = append(items, line)
		id := line.ID
		undo = func(cur []domain.CartLineItem) []domain.CartLineItem {
			return dropLine(cur, id)
		}
	}
	snap := s.writeLocked(items, domain.CountItems(items))
	broadcaster := s.broadcaster
	s.mu.Unlock()
	s.commit(ctx, snap)

	if !s.session.Authenticated() {
		return snap, nil
	}
	if broadcaster != nil {
		if err := broadcaster.Emit(ctx, snap); err != nil {
			s.logger.Debug("cart broadcast failed", zap.Error(err))
		}
	}

	if err := s.remote.AddItem(ctx, addRequest(line, in.Quantity)); err != nil {
		s.rollback(ctx, undo)
		s.failed("add", err)
		return s.Snapshot(), err
	}
	return s.FetchCart(ctx)
}

// MergeGuest moves a cart built before sign-in into the user's server cart:
// every saved guest line is added remotely, the guest copy is deleted and
// the cart is reconciled. When an add fails the guest copy is kept for the
// next sign-in.
func (s *Service) MergeGuest(ctx context.Context) (domain.Snapshot, error) {
	if !s.session.Authenticated() {
		return s.Snapshot(), domain.ErrNotAuthenticated
	}
	guest, err := s.repo.Load(ctx, GuestOwner)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return s.FetchCart(ctx)
	case err != nil:
		s.logger.Warn("load guest cart failed", zap.Error(err))
		return s.FetchCart(ctx)
	}

	for _, it := range guest.Items {
		if err := s.remote.AddItem(ctx, addRequest(it, it.Quantity)); err != nil {
			s.failed("merge", err)
			snap, _ := s.FetchCart(ctx)
			return snap, err
		}
	}
	if err := s.repo.Delete(ctx, GuestOwner); err != nil {
		s.logger.Warn("delete guest cart failed", zap.Error(err))
	}
	s.logger.Info("merged guest cart", zap.String("user_id", s.session.UserID()), zap.Int("items", len(guest.Items)))
	return s.FetchCart(ctx)
}

// FetchCart replaces the cart with the backend's copy. On failure the local
// cart is left as it was. Guest carts are local only.
func (s *Service) FetchCart(ctx context.Context) (domain.Snapshot, error) {
	if !s.session.Authenticated() {
		return s.Snapshot(), nil
	}
	s.mu.Lock()
	s.issued++
	ticket := s.issued
	s.mu.Unlock()

	items, err := s.remote.FetchCart(ctx)
	if err != nil {
		s.logger.Warn("fetch cart failed", zap.Error(err))
		if remote.IsNetwork(err) {
			s.offline()
		}
		return s.Snapshot(), err
	}
	return s.reconcile(ctx, ticket, items), nil
}

// reconcile applies a fetch result unless a newer write landed after the
// fetch was issued.
func (s *Service) reconcile(ctx context.Context, ticket uint64, items []domain.CartLineItem) domain.Snapshot {
	s.mu.Lock()
	if ticket <= s.applied {
		applied := s.applied
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.logger.Debug("discarding stale cart response",
			zap.Uint64("ticket", ticket),
			zap.Uint64("applied", applied))
		return snap
	}
	if items == nil {
		items = []domain.CartLineItem{}
	}
	s.applied = ticket
	s.items = domain.CloneItems(items)
	s.count = domain.CountItems(items)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.commit(ctx, snap)
	return snap
}

// UpdateQuantity sets a line's quantity. Quantities below 1 are rejected
// without touching state or the network.
func (s *Service) UpdateQuantity(ctx context.Context, id string, quantity int) (domain.Snapshot, error) {
	if quantity < 1 {
		s.invalid("Quantity must be at least 1.")
		return s.Snapshot(), domain.ErrInvalidQuantity
	}

	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.invalid("That item is no longer in your cart.")
		return snap, domain.ErrNotFound
	}
	items := domain.CloneItems(s.items)
	prev := items[idx].Clone()
	items[idx].Quantity = quantity
	items[idx].Recompute()
	snap := s.writeLocked(items, domain.CountItems(items))
	s.mu.Unlock()
	s.commit(ctx, snap)

	if !s.session.Authenticated() {
		return snap, nil
	}
	if err := s.remote.UpdateQuantity(ctx, id, quantity); err != nil {
		s.rollback(ctx, restoreLine(prev, quantity))
		s.failed("update", err)
		return s.Snapshot(), err
	}
	return s.FetchCart(ctx)
}

// RemoveItem drops a line. A failed delete puts it back where it was.
func (s *Service) RemoveItem(ctx context.Context, id string) (domain.Snapshot, error) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, domain.ErrNotFound
	}
	items := domain.CloneItems(s.items)
	removed := items[idx]
	items = append(items[:idx], items[idx+1:]...)
	snap := s.writeLocked(items, domain.CountItems(items))
	s.mu.Unlock()
	s.commit(ctx, snap)

	if !s.session.Authenticated() {
		return snap, nil
	}
	err := s.remote.RemoveItem(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.rollback(ctx, func(cur []domain.CartLineItem) []domain.CartLineItem {
			return insertLine(cur, idx, removed)
		})
		s.failed("remove", err)
		return s.Snapshot(), err
	}
	return s.FetchCart(ctx)
}

// ApplyRemote replaces the cart with a pushed snapshot, items and count
// wholesale.
func (s *Service) ApplyRemote(ctx context.Context, pushed domain.Snapshot) {
	items := domain.CloneItems(pushed.Items)
	if items == nil {
		items = []domain.CartLineItem{}
	}
	s.mu.Lock()
	snap := s.writeLocked(items, pushed.Count)
	s.mu.Unlock()
	s.logger.Debug("applied pushed cart", zap.Int("items", len(items)), zap.Int("count", pushed.Count))
	s.commit(ctx, snap)
}

// Restore loads the persisted snapshot for the current owner.
func (s *Service) Restore(ctx context.Context) error {
	owner := s.owner()
	saved, err := s.repo.Load(ctx, owner)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	snap := s.writeLocked(domain.CloneItems(saved.Items), saved.Count)
	s.mu.Unlock()

	s.persistMu.Lock()
	s.persisted = snap.Version
	s.persistedOwner = owner
	s.persistMu.Unlock()

	s.logger.Info("restored cart", zap.String("owner", owner), zap.Int("items", len(snap.Items)))
	s.notifyListeners(snap)
	return nil
}

// Clear empties the cart and deletes the persisted copies, the guest one
// included. Used on logout.
func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	snap := s.writeLocked([]domain.CartLineItem{}, 0)
	s.mu.Unlock()

	s.persistMu.Lock()
	owner := s.persistedOwner
	s.persisted = snap.Version
	s.persistedOwner = ""
	s.persistMu.Unlock()

	s.notifyListeners(snap)
	var errs []error
	if owner != "" && owner != GuestOwner {
		errs = append(errs, s.repo.Delete(ctx, owner))
	}
	errs = append(errs, s.repo.Delete(ctx, GuestOwner))
	return errors.Join(errs...)
}

func (s *Service) owner() string {
	if id := s.session.UserID(); id != "" {
		return id
	}
	return GuestOwner
}

func (s *Service) indexLocked(id string) int {
	for i, it := range s.items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

// writeLocked installs items under a fresh ticket. Caller holds s.mu.
func (s *Service) writeLocked(items []domain.CartLineItem, count int) domain.Snapshot {
	s.issued++
	s.applied = s.issued
	s.items = items
	s.count = count
	return s.snapshotLocked()
}

func (s *Service) snapshotLocked() domain.Snapshot {
	items := domain.CloneItems(s.items)
	if items == nil {
		items = []domain.CartLineItem{}
	}
	return domain.Snapshot{Items: items, Count: s.count, Version: s.applied}
}

func (s *Service) rollback(ctx context.Context, undo func([]domain.CartLineItem) []domain.CartLineItem) {
	s.mu.Lock()
	items := undo(domain.CloneItems(s.items))
	snap := s.writeLocked(items, domain.CountItems(items))
	s.mu.Unlock()
	s.commit(ctx, snap)
}

// commit persists snap and hands it to the change listeners.
func (s *Service) commit(ctx context.Context, snap domain.Snapshot) {
	s.persist(ctx, s.owner(), snap)
	s.notifyListeners(snap)
}

func (s *Service) persist(ctx context.Context, owner string, snap domain.Snapshot) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if owner == s.persistedOwner && snap.Version <= s.persisted {
		return
	}
	snap.SavedAt = s.now().UTC()
	if err := s.repo.Save(context.WithoutCancel(ctx), owner, snap); err != nil {
		s.logger.Warn("persist cart failed", zap.String("owner", owner), zap.Error(err))
		return
	}
	s.persisted = snap.Version
	s.persistedOwner = owner
}

func (s *Service) notifyListeners(snap domain.Snapshot) {
	s.mu.Lock()
	listeners := append([]func(domain.Snapshot){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(snap.Clone())
	}
}

func (s *Service) invalid(msg string) {
	s.notifier.Notify(notify.Notice{Level: notify.LevelWarn, Code: notify.CodeValidation, Message: msg})
}

func (s *Service) offline() {
	s.notifier.Notify(notify.Notice{
		Level:   notify.LevelError,
		Code:    notify.CodeNetwork,
		Message: "Could not reach the marketplace. Please check your connection.",
	})
}

// failed turns a mutation error into a notice. Session expiry is announced
// by the session service.
func (s *Service) failed(op string, err error) {
	s.logger.Warn("cart mutation failed, rolled back", zap.String("op", op), zap.Error(err))
	switch {
	case errors.Is(err, domain.ErrSessionExpired), errors.Is(err, context.Canceled):
	case remote.IsNetwork(err):
		s.offline()
	case errors.Is(err, domain.ErrConflict):
		s.notifier.Notify(notify.Notice{
			Level:   notify.LevelWarn,
			Code:    notify.CodeConflict,
			Message: "This item changed or is no longer available.",
		})
	default:
		s.notifier.Notify(notify.Notice{
			Level:   notify.LevelError,
			Code:    notify.CodeNetwork,
			Message: "Your cart could not be updated. Please try again.",
		})
	}
}

func addRequest(it domain.CartLineItem, quantity int) remote.AddRequest {
	req := remote.AddRequest{
		ProductID: it.ProductID,
		StoreID:   it.StoreID,
		Quantity:  quantity,
	}
	if it.Variation != nil {
		req.Variation = it.Variation.Options
		if !it.Variation.PriceDelta.IsZero() {
			delta := it.Variation.PriceDelta
			req.PriceDelta = &delta
		}
	}
	return req
}

// restoreLine puts prev back if the line still has the optimistic quantity.
func restoreLine(prev domain.CartLineItem, optimistic int) func([]domain.CartLineItem) []domain.CartLineItem {
	return func(cur []domain.CartLineItem) []domain.CartLineItem {
		for i := range cur {
			if cur[i].ID == prev.ID && cur[i].Quantity == optimistic {
				cur[i] = prev.Clone()
			}
		}
		return cur
	}
}

func dropLine(cur []domain.CartLineItem, id string) []domain.CartLineItem {
	out := cur[:0]
	for _, it := range cur {
		if it.ID != id {
			out = append(out, it)
		}
	}
	return out
}

// insertLine reinserts line at idx unless it is already back.
func insertLine(cur []domain.CartLineItem, idx int, line domain.CartLineItem) []domain.CartLineItem {
	for _, it := range cur {
		if it.ID == line.ID {
			return cur
		}
	}
	if idx > len(cur) {
		idx = len(cur)
	}
	cur = append(cur, domain.CartLineItem{})
	copy(cur[idx+1:], cur[idx:])
	cur[idx] = line
	return cur
}
