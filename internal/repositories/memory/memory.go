// Package memory holds map-backed repositories used when no DSN is configured
// and in HTTP tests. Every store is safe for concurrent use.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"udensfiltri/internal/models"
	"udensfiltri/internal/repositories"
)

// ---- users ----

// UserRepo is the in-memory user store. It is seeded with the regular and
// business groups.
type UserRepo struct {
	mu      sync.RWMutex
	nextID  int64
	users   map[int64]*models.User
	groups  map[string]int64 // name -> id
	members map[int64]map[int64]struct{}
	discs   map[int64]models.GroupDiscount
}

var _ repositories.UserRepository = (*UserRepo)(nil)

func NewUserRepo() *UserRepo {
	return &UserRepo{
		users:   make(map[int64]*models.User),
		groups:  map[string]int64{models.GroupRegularUsers: 1, models.GroupBusinessUsers: 2},
		members: make(map[int64]map[int64]struct{}),
		discs: map[int64]models.GroupDiscount{
			1: {GroupID: 1, Percentage: 0, IsActive: true},
			2: {GroupID: 2, Percentage: 10, IsActive: true},
		},
	}
}

// SetGroupDiscount replaces the discount of a named group, creating the group
// when it does not exist.
func (r *UserRepo) SetGroupDiscount(name string, pct int, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.groups[name]
	if !ok {
		id = int64(len(r.groups) + 1)
		r.groups[name] = id
	}
	r.discs[id] = models.GroupDiscount{GroupID: id, Percentage: pct, IsActive: active}
}

// SetStaff toggles the staff flag.
func (r *UserRepo) SetStaff(id int64, staff bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.IsStaff = staff
	}
}

// SetActive toggles the active flag.
func (r *UserRepo) SetActive(id int64, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.IsActive = active
	}
}

func (r *UserRepo) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.taken(0, user.Email, user.Phone) {
		return repositories.ErrDuplicate
	}
	r.nextID++
	user.ID = r.nextID
	user.DateJoined = time.Now().UTC()
	cp := *user
	r.users[cp.ID] = &cp
	return nil
}

// taken reports whether another user (not self) already holds email or phone.
func (r *UserRepo) taken(self int64, email, phone *string) bool {
	for id, u := range r.users {
		if id == self {
			continue
		}
		if email != nil && u.Email != nil && strings.EqualFold(*u.Email, *email) {
			return true
		}
		if phone != nil && u.Phone != nil && *u.Phone == *phone {
			return true
		}
	}
	return false
}

func (r *UserRepo) GetByID(_ context.Context, id int64) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *UserRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.Email != nil && strings.EqualFold(*u.Email, email) })
}

func (r *UserRepo) GetByPhone(_ context.Context, phone string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.Phone != nil && *u.Phone == phone })
}

func (r *UserRepo) find(match func(*models.User) bool) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *models.User
	for _, u := range r.users {
		if match(u) && (best == nil || u.ID < best.ID) {
			best = u
		}
	}
	if best == nil {
		return nil, repositories.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (r *UserRepo) update(id int64, fn func(u *models.User) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repositories.ErrNotFound
	}
	return fn(u)
}

func (r *UserRepo) UpdateProfile(_ context.Context, id int64, firstName, lastName string) error {
	return r.update(id, func(u *models.User) error {
		u.FirstName, u.LastName = firstName, lastName
		return nil
	})
}

func (r *UserRepo) UpdateEmail(_ context.Context, id int64, email *string) error {
	return r.update(id, func(u *models.User) error {
		if r.taken(id, email, nil) {
			return repositories.ErrDuplicate
		}
		u.Email = copyStr(email)
		return nil
	})
}

func (r *UserRepo) UpdatePhone(_ context.Context, id int64, phone *string) error {
	return r.update(id, func(u *models.User) error {
		if r.taken(id, nil, phone) {
			return repositories.ErrDuplicate
		}
		u.Phone = copyStr(phone)
		return nil
	})
}

func (r *UserRepo) UpdatePassword(_ context.Context, id int64, hash string) error {
	return r.update(id, func(u *models.User) error {
		u.PasswordHash = hash
		return nil
	})
}

func (r *UserRepo) AddToGroup(_ context.Context, userID int64, groupName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	gid, ok := r.groups[groupName]
	if !ok {
		return nil
	}
	if r.members[userID] == nil {
		r.members[userID] = make(map[int64]struct{})
	}
	r.members[userID][gid] = struct{}{}
	return nil
}

func (r *UserRepo) MaxActiveDiscount(_ context.Context, userID int64) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.members[userID]))
	for gid := range r.members[userID] {
		ids = append(ids, gid)
	}
	discs := make([]models.GroupDiscount, 0, len(r.discs))
	for _, d := range r.discs {
		discs = append(discs, d)
	}
	return models.MaxActiveDiscount(ids, discs), nil
}

func copyStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// ---- verification codes ----

type CodeRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   []*models.VerificationCode
}

var _ repositories.VerificationCodeRepository = (*CodeRepo)(nil)

func NewCodeRepo() *CodeRepo {
	return &CodeRepo{}
}

// latest returns the newest row matching the pair; the caller holds mu.
func (r *CodeRepo) latest(identifier string, purpose models.CodePurpose, activeOnly bool) *models.VerificationCode {
	var best *models.VerificationCode
	for _, v := range r.rows {
		if v.Identifier != identifier || v.Purpose != purpose {
			continue
		}
		if activeOnly && v.ConsumedAt != nil {
			continue
		}
		if best == nil || v.CreatedAt.After(best.CreatedAt) || (v.CreatedAt.Equal(best.CreatedAt) && v.ID > best.ID) {
			best = v
		}
	}
	return best
}

func (r *CodeRepo) CreateUnlessRecent(_ context.Context, v *models.VerificationCode, since time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if last := r.latest(v.Identifier, v.Purpose, false); last != nil && last.CreatedAt.After(since) {
		return false, nil
	}
	r.nextID++
	v.ID = r.nextID
	cp := *v
	r.rows = append(r.rows, &cp)
	return true, nil
}

func (r *CodeRepo) GetLatest(_ context.Context, identifier string, purpose models.CodePurpose) (*models.VerificationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.latest(identifier, purpose, false)
	if v == nil {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

func (r *CodeRepo) UpdateLatestActive(_ context.Context, identifier string, purpose models.CodePurpose, fn func(v *models.VerificationCode) bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.latest(identifier, purpose, true)
	if v == nil {
		return false, nil
	}
	cp := *v
	if fn(&cp) {
		*v = cp
	}
	return true, nil
}

// ---- catalog ----

type CatalogRepo struct {
	mu       sync.RWMutex
	products map[int64]models.Product
	services map[int64]models.Service
}

var _ repositories.CatalogRepository = (*CatalogRepo)(nil)

func NewCatalogRepo() *CatalogRepo {
	return &CatalogRepo{
		products: make(map[int64]models.Product),
		services: make(map[int64]models.Service),
	}
}

func (r *CatalogRepo) PutProduct(p models.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = p
}

func (r *CatalogRepo) PutService(s models.Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[s.ID] = s
}

func (r *CatalogRepo) ActiveProducts(_ context.Context, ids []int64) (map[int64]*models.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int64]*models.Product, len(ids))
	for _, id := range ids {
		if p, ok := r.products[id]; ok && p.IsActive {
			cp := p
			out[id] = &cp
		}
	}
	return out, nil
}

func (r *CatalogRepo) ActiveServices(_ context.Context, ids []int64) (map[int64]*models.Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[int64]*models.Service, len(ids))
	for _, id := range ids {
		if s, ok := r.services[id]; ok && s.IsActive {
			cp := s
			out[id] = &cp
		}
	}
	return out, nil
}

// ---- orders ----

type OrderRepo struct {
	mu     sync.RWMutex
	nextID int64
	orders map[int64]*models.Order
}

var _ repositories.OrderRepository = (*OrderRepo)(nil)

func NewOrderRepo() *OrderRepo {
	return &OrderRepo{orders: make(map[int64]*models.Order)}
}

func cloneOrder(o *models.Order) *models.Order {
	cp := *o
	cp.Items = append([]models.OrderItem(nil), o.Items...)
	return &cp
}

func (r *OrderRepo) Create(_ context.Context, o *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	now := time.Now().UTC()
	o.ID, o.CreatedAt, o.UpdatedAt = r.nextID, now, now
	r.orders[o.ID] = cloneOrder(o)
	return nil
}

func (r *OrderRepo) GetByID(_ context.Context, id int64) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (r *OrderRepo) ListByUser(_ context.Context, userID int64) ([]*models.Order, error) {
	return r.list(func(o *models.Order) bool { return o.UserID != nil && *o.UserID == userID }), nil
}

func (r *OrderRepo) ListAll(_ context.Context) ([]*models.Order, error) {
	return r.list(func(*models.Order) bool { return true }), nil
}

func (r *OrderRepo) list(match func(*models.Order) bool) []*models.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []*models.Order
	for _, o := range r.orders {
		if match(o) {
			res = append(res, cloneOrder(o))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	return res
}

func (r *OrderRepo) SetStripeSession(_ context.Context, id int64, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return repositories.ErrNotFound
	}
	o.StripeSessionID = sessionID
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *OrderRepo) Transition(_ context.Context, id int64, from, to models.OrderStatus, sessionID, intentID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	if sessionID != "" {
		o.StripeSessionID = sessionID
	}
	if intentID != "" {
		o.StripePaymentIntentID = intentID
	}
	o.UpdatedAt = time.Now().UTC()
	return true, nil
}
