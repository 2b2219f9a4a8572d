package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/s/courseLedger/internal/models"
)

// MemoryStore keeps everything in process. Atomic holds the write lock for
// the whole group and restores a snapshot when fn fails, which gives the
// same per-group all-or-nothing behaviour as a database transaction.
type MemoryStore struct {
	mu    sync.RWMutex
	state memState
}

type memState struct {
	users        map[string]models.User
	entitlements []models.Entitlement
	settlements  map[string]models.Settlement
	promos       map[string]models.PromoCode
	payouts      map[string]models.PayoutRequest
	payoutOrder  []string
	audit        []models.AuditRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: memState{
		users:       make(map[string]models.User),
		settlements: make(map[string]models.Settlement),
		promos:      make(map[string]models.PromoCode),
		payouts:     make(map[string]models.PayoutRequest),
	}}
}

func (s memState) clone() memState {
	c := memState{
		users:        make(map[string]models.User, len(s.users)),
		entitlements: append([]models.Entitlement(nil), s.entitlements...),
		settlements:  make(map[string]models.Settlement, len(s.settlements)),
		promos:       make(map[string]models.PromoCode, len(s.promos)),
		payouts:      make(map[string]models.PayoutRequest, len(s.payouts)),
		payoutOrder:  append([]string(nil), s.payoutOrder...),
		audit:        append([]models.AuditRecord(nil), s.audit...),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.settlements {
		c.settlements[k] = v
	}
	for k, v := range s.promos {
		c.promos[k] = v
	}
	for k, v := range s.payouts {
		c.payouts[k] = v
	}
	return c
}

func (m *MemoryStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.state.clone()
	if err := fn(&memTx{state: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *MemoryStore) read() *memTx {
	return &memTx{state: &m.state}
}

func (m *MemoryStore) User(ctx context.Context, id string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().User(ctx, id)
}

func (m *MemoryStore) UserByGoogleID(ctx context.Context, googleID string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().UserByGoogleID(ctx, googleID)
}

func (m *MemoryStore) CurrentEntitlement(ctx context.Context, learnerID, courseID string) (models.Entitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().CurrentEntitlement(ctx, learnerID, courseID)
}

func (m *MemoryStore) EntitlementHistory(ctx context.Context, learnerID, courseID string) ([]models.Entitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().EntitlementHistory(ctx, learnerID, courseID)
}

func (m *MemoryStore) LearnerEntitlements(ctx context.Context, learnerID string) ([]models.Entitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().LearnerEntitlements(ctx, learnerID)
}

func (m *MemoryStore) Settlement(ctx context.Context, id string) (models.Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().Settlement(ctx, id)
}

func (m *MemoryStore) Settlements(ctx context.Context, filter SettlementFilter) ([]models.Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().Settlements(ctx, filter)
}

func (m *MemoryStore) PromoCode(ctx context.Context, code string) (models.PromoCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().PromoCode(ctx, code)
}

func (m *MemoryStore) Payout(ctx context.Context, id string) (models.PayoutRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().Payout(ctx, id)
}

func (m *MemoryStore) Payouts(ctx context.Context, filter PayoutFilter) ([]models.PayoutRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().Payouts(ctx, filter)
}

func (m *MemoryStore) AuditRecords(ctx context.Context, filter AuditFilter) ([]models.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().AuditRecords(ctx, filter)
}

// memTx works on the live state; callers hold the store lock.
type memTx struct {
	state *memState
}

func (t *memTx) User(_ context.Context, id string) (models.User, error) {
	u, ok := t.state.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return u, nil
}

func (t *memTx) UserByGoogleID(_ context.Context, googleID string) (models.User, error) {
	for _, u := range t.state.users {
		if u.GoogleID == googleID {
			return u, nil
		}
	}
	return models.User{}, ErrNotFound
}

func (t *memTx) CurrentEntitlement(_ context.Context, learnerID, courseID string) (models.Entitlement, error) {
	for i := len(t.state.entitlements) - 1; i >= 0; i-- {
		e := t.state.entitlements[i]
		if e.LearnerID == learnerID && e.CourseID == courseID {
			return e, nil
		}
	}
	return models.Entitlement{}, ErrNotFound
}

func (t *memTx) EntitlementHistory(_ context.Context, learnerID, courseID string) ([]models.Entitlement, error) {
	var out []models.Entitlement
	for i := len(t.state.entitlements) - 1; i >= 0; i-- {
		e := t.state.entitlements[i]
		if e.LearnerID == learnerID && e.CourseID == courseID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *memTx) LearnerEntitlements(_ context.Context, learnerID string) ([]models.Entitlement, error) {
	seen := make(map[string]bool)
	var out []models.Entitlement
	for i := len(t.state.entitlements) - 1; i >= 0; i-- {
		e := t.state.entitlements[i]
		if e.LearnerID != learnerID || seen[e.CourseID] {
			continue
		}
		seen[e.CourseID] = true
		out = append(out, e)
	}
	return out, nil
}

func (t *memTx) Settlement(_ context.Context, id string) (models.Settlement, error) {
	s, ok := t.state.settlements[id]
	if !ok {
		return models.Settlement{}, ErrNotFound
	}
	return s, nil
}

func (t *memTx) Settlements(_ context.Context, filter SettlementFilter) ([]models.Settlement, error) {
	out := make([]models.Settlement, 0)
	for _, s := range t.state.settlements {
		if filter.InstructorID != "" && s.InstructorID != filter.InstructorID {
			continue
		}
		if filter.LearnerID != "" && s.LearnerID != filter.LearnerID {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if filter.Suspicious != nil && s.Fraud.IsSuspicious != *filter.Suspicious {
			continue
		}
		if filter.Reviewed != nil && s.Fraud.Reviewed != *filter.Reviewed {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (t *memTx) PromoCode(_ context.Context, code string) (models.PromoCode, error) {
	p, ok := t.state.promos[code]
	if !ok {
		return models.PromoCode{}, ErrNotFound
	}
	return p, nil
}

func (t *memTx) Payout(_ context.Context, id string) (models.PayoutRequest, error) {
	p, ok := t.state.payouts[id]
	if !ok {
		return models.PayoutRequest{}, ErrNotFound
	}
	return p, nil
}

func (t *memTx) Payouts(_ context.Context, filter PayoutFilter) ([]models.PayoutRequest, error) {
	out := make([]models.PayoutRequest, 0)
	for i := len(t.state.payoutOrder) - 1; i >= 0; i-- {
		p := t.state.payouts[t.state.payoutOrder[i]]
		if filter.InstructorID != "" && p.InstructorID != filter.InstructorID {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, p)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (t *memTx) AuditRecords(_ context.Context, filter AuditFilter) ([]models.AuditRecord, error) {
	out := make([]models.AuditRecord, 0)
	for i := len(t.state.audit) - 1; i >= 0; i-- {
		rec := t.state.audit[i]
		if filter.ActorID != "" && rec.ActorID != filter.ActorID {
			continue
		}
		if filter.EventType != "" && rec.EventType != filter.EventType {
			continue
		}
		if filter.TargetID != "" && rec.TargetID != filter.TargetID {
			continue
		}
		if !filter.Since.IsZero() && rec.CreatedAt.Before(filter.Since) {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (t *memTx) SaveUser(_ context.Context, user *models.User) error {
	t.state.users[user.ID] = *user
	return nil
}

func (t *memTx) CreateEntitlement(_ context.Context, e *models.Entitlement) error {
	t.state.entitlements = append(t.state.entitlements, *e)
	return nil
}

func (t *memTx) UpdateEntitlement(_ context.Context, e *models.Entitlement) error {
	for i := range t.state.entitlements {
		if cur := &t.state.entitlements[i]; cur.ID == e.ID {
			// same columns as entitlementColumns
			cur.Status = e.Status
			cur.Source = e.Source
			cur.GrantedAt = e.GrantedAt
			cur.ExpiresAt = e.ExpiresAt
			cur.GrantedBy = e.GrantedBy
			cur.SettlementID = e.SettlementID
			cur.RevokedBy = e.RevokedBy
			cur.RevokedAt = e.RevokedAt
			return nil
		}
	}
	return ErrNotFound
}

func (t *memTx) CreateSettlement(_ context.Context, s *models.Settlement) error {
	t.state.settlements[s.ID] = *s
	return nil
}

func (t *memTx) TransitionSettlement(_ context.Context, id string, from, to models.SettlementStatus, providerTxID string, at time.Time) error {
	s, ok := t.state.settlements[id]
	if !ok {
		return ErrNotFound
	}
	if s.Status != from {
		return ErrStale
	}
	s.Status = to
	if providerTxID != "" {
		s.ProviderTxID = providerTxID
	}
	s.UpdatedAt = at
	t.state.settlements[id] = s
	return nil
}

func (t *memTx) UpdateFraudReview(_ context.Context, id string, review models.FraudReview, at time.Time) error {
	s, ok := t.state.settlements[id]
	if !ok {
		return ErrNotFound
	}
	s.Fraud = review
	s.UpdatedAt = at
	t.state.settlements[id] = s
	return nil
}

func (t *memTx) SavePromoCode(_ context.Context, p *models.PromoCode) error {
	t.state.promos[p.Code] = *p
	return nil
}

func (t *memTx) CreatePayout(_ context.Context, p *models.PayoutRequest) error {
	t.state.payouts[p.ID] = *p
	t.state.payoutOrder = append(t.state.payoutOrder, p.ID)
	return nil
}

func (t *memTx) DecidePayout(_ context.Context, id string, status models.PayoutStatus, decidedBy, note string, at time.Time) error {
	p, ok := t.state.payouts[id]
	if !ok {
		return ErrNotFound
	}
	if p.Status != models.PayoutPending {
		return ErrStale
	}
	p.Status = status
	p.DecidedBy = decidedBy
	p.DecidedAt = &at
	p.Note = note
	t.state.payouts[id] = p
	return nil
}

func (t *memTx) AppendAudit(_ context.Context, rec *models.AuditRecord) error {
	t.state.audit = append(t.state.audit, *rec)
	return nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Tx    = (*memTx)(nil)
)
