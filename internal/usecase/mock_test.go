//go:build !integration

package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"course-payment-sync/internal/domain"
	"course-payment-sync/internal/domain/model"
	"course-payment-sync/internal/domain/ports/adapter"
	"course-payment-sync/internal/domain/ports/repository"
	"course-payment-sync/internal/infra/payment"
)

// -----------------------------
// Utilities: tiny helpers
// -----------------------------

const testServerKey = "SB-Mid-server-test-key"

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

var errStoreDown = errors.New("store unavailable")

// =============================
// Repositories
// =============================

// ---- Mock PaymentRepository ----

// MockPaymentRepo is an in-memory ledger. The *Func hooks override behavior per test.
type MockPaymentRepo struct {
	mu   sync.Mutex
	data map[string]*model.PaymentRecord
	seq  []string // insertion order

	SaveFunc         func(ctx context.Context, p *model.PaymentRecord) error
	ScanFunc         func(ctx context.Context, f model.PaymentFilter) ([]*model.PaymentRecord, error)
	ListByUserFunc   func(ctx context.Context, userID string) ([]*model.PaymentRecord, error)
	UpdateStatusFunc func(ctx context.Context, id string, upd model.PaymentUpdate) error

	// Precision, when set, truncates stored timestamps the way timestamptz does.
	Precision time.Duration

	Saves   int
	Updates int
}

var _ repository.PaymentRepository = (*MockPaymentRepo)(nil)

func NewMockPaymentRepo() *MockPaymentRepo {
	return &MockPaymentRepo{data: map[string]*model.PaymentRecord{}}
}

func (r *MockPaymentRepo) Save(ctx context.Context, p *model.PaymentRecord) error {
	if r.SaveFunc != nil {
		return r.SaveFunc(ctx, p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *p
	r.truncate(&cp)
	r.data[p.ID] = &cp
	r.seq = append(r.seq, p.ID)
	r.Saves++
	return nil
}

func (r *MockPaymentRepo) FindByID(ctx context.Context, id string) (*model.PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.data[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (r *MockPaymentRepo) list(match func(*model.PaymentRecord) bool) []*model.PaymentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.PaymentRecord
	for _, id := range r.seq {
		p := r.data[id]
		if match(p) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

func (r *MockPaymentRepo) ListByUser(ctx context.Context, userID string) ([]*model.PaymentRecord, error) {
	if r.ListByUserFunc != nil {
		return r.ListByUserFunc(ctx, userID)
	}
	return r.list(func(p *model.PaymentRecord) bool { return p.UserID == userID }), nil
}

func (r *MockPaymentRepo) ListByOrderID(ctx context.Context, orderID string) ([]*model.PaymentRecord, error) {
	return r.list(func(p *model.PaymentRecord) bool { return p.OrderID == orderID }), nil
}

func (r *MockPaymentRepo) FindByTransactionID(ctx context.Context, txID string) (*model.PaymentRecord, error) {
	found := r.list(func(p *model.PaymentRecord) bool { return p.TransactionID == txID })
	if len(found) == 0 {
		return nil, domain.ErrNotFound
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].UpdatedAt.After(found[j].UpdatedAt) })
	return found[0], nil
}

func (r *MockPaymentRepo) Scan(ctx context.Context, f model.PaymentFilter) ([]*model.PaymentRecord, error) {
	if r.ScanFunc != nil {
		return r.ScanFunc(ctx, f)
	}
	return r.list(f.Match), nil
}

func (r *MockPaymentRepo) UpdateStatus(ctx context.Context, id string, upd model.PaymentUpdate) error {
	if r.UpdateStatusFunc != nil {
		return r.UpdateStatusFunc(ctx, id, upd)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	upd.Apply(p, time.Now().UTC())
	r.truncate(p)
	r.Updates++
	return nil
}

func (r *MockPaymentRepo) truncate(p *model.PaymentRecord) {
	if r.Precision <= 0 {
		return
	}
	for _, t := range []*time.Time{&p.PurchaseDate, &p.ExpiryDate, &p.CreatedAt, &p.UpdatedAt} {
		*t = t.Truncate(r.Precision)
	}
}

// All returns a snapshot of every stored record in insertion order.
func (r *MockPaymentRepo) All() []*model.PaymentRecord {
	return r.list(func(*model.PaymentRecord) bool { return true })
}

// ---- Mock UserRepository ----

type MockUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.UserProjection

	FindByIDFunc               func(ctx context.Context, id string) (*model.UserProjection, error)
	UpdatePurchasedCoursesFunc func(ctx context.Context, userID string, grants []model.CourseGrant, at time.Time) error
	ListIDsFunc                func(ctx context.Context) ([]string, error)

	Writes map[string]int // projection writes per user

	// EncodeJSON stores grants through a JSON round trip, as a JSONB column would.
	EncodeJSON bool
}

var _ repository.UserRepository = (*MockUserRepo)(nil)

func NewMockUserRepo(ids ...string) *MockUserRepo {
	r := &MockUserRepo{users: map[string]*model.UserProjection{}, Writes: map[string]int{}}
	for _, id := range ids {
		r.users[id] = &model.UserProjection{ID: id, PurchasedCourses: []model.CourseGrant{}}
	}
	return r
}

// Put installs a user with the given grants.
func (r *MockUserRepo) Put(id string, grants ...model.CourseGrant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[id] = &model.UserProjection{ID: id, PurchasedCourses: append([]model.CourseGrant{}, grants...)}
}

func (r *MockUserRepo) FindByID(ctx context.Context, id string) (*model.UserProjection, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	cp.PurchasedCourses = append([]model.CourseGrant{}, u.PurchasedCourses...)
	return &cp, nil
}

func (r *MockUserRepo) UpdatePurchasedCourses(ctx context.Context, userID string, grants []model.CourseGrant, at time.Time) error {
	if r.UpdatePurchasedCoursesFunc != nil {
		return r.UpdatePurchasedCoursesFunc(ctx, userID, grants, at)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.PurchasedCourses = append([]model.CourseGrant{}, grants...)
	if r.EncodeJSON {
		b, err := json.Marshal(grants)
		if err != nil {
			return err
		}
		u.PurchasedCourses = nil
		if err := json.Unmarshal(b, &u.PurchasedCourses); err != nil {
			return err
		}
	}
	u.UpdatedAt = at
	r.Writes[userID]++
	return nil
}

func (r *MockUserRepo) ListIDs(ctx context.Context) ([]string, error) {
	if r.ListIDsFunc != nil {
		return r.ListIDsFunc(ctx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.users))
	for id := range r.users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Grants returns the stored grant list for a user (nil when unknown).
func (r *MockUserRepo) Grants(id string) []model.CourseGrant {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		return append([]model.CourseGrant{}, u.PurchasedCourses...)
	}
	return nil
}

func (r *MockUserRepo) TotalWrites() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, w := range r.Writes {
		n += w
	}
	return n
}

// =============================
// Adapters
// =============================

// ---- Mock Locker ----

type MockLocker struct {
	mu   sync.Mutex
	held map[string]string

	TryLockErr error
	Unlocks    int
}

var _ adapter.Locker = (*MockLocker)(nil)

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if l.TryLockErr != nil {
		return "", l.TryLockErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]string{}
	}
	if _, ok := l.held[key]; ok {
		return "", domain.ErrRunInProgress
	}
	l.held[key] = "tok"
	return "tok", nil
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	l.Unlocks++
	return nil
}

// =============================
// Fixtures
// =============================

// paidRecord builds a successful ledger record purchased at `at`.
func paidRecord(id, userID, courseID string, at time.Time) *model.PaymentRecord {
	return &model.PaymentRecord{
		ID:            id,
		OrderID:       fmt.Sprintf("C_%s_%s_%d", userID, courseID, at.UnixMilli()),
		TransactionID: "tx-" + id,
		UserID:        userID,
		CourseID:      courseID,
		Status:        model.PaymentStatusSuccess,
		Amount:        150000,
		Currency:      "IDR",
		PaymentMethod: "bank_transfer",
		PurchaseDate:  at,
		ExpiryDate:    at.Add(model.AccessWindow),
		IsActive:      true,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}

// signedNotification returns a notification signed with testServerKey.
func signedNotification(orderID, status, gross string) *model.Notification {
	return &model.Notification{
		OrderID:           orderID,
		StatusCode:        "200",
		GrossAmount:       gross,
		SignatureKey:      payment.Signature(orderID, "200", gross, testServerKey),
		TransactionStatus: status,
		TransactionID:     "tx-" + orderID,
		PaymentType:       "bank_transfer",
		Currency:          "IDR",
		Raw:               map[string]any{"transaction_status": status},
	}
}
