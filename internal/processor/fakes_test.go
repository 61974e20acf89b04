package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
	"github.com/kursadbilgin/bulkjob-engine/internal/messaging"
)

type claimKey struct {
	jobID string
	row   int
}

// memCodes mirrors the SQL claim: one statement per call under a lock.
type memCodes struct {
	mu       sync.Mutex
	codes    []*domain.SponsorshipCode
	claimErr error
}

func newMemCodes(purchaseID string, n int) *memCodes {
	m := &memCodes{}
	for i := 0; i < n; i++ {
		m.codes = append(m.codes, &domain.SponsorshipCode{
			ID:         fmt.Sprintf("code-%02d", i),
			Code:       fmt.Sprintf("AGRI-%05d", i),
			PurchaseID: purchaseID,
			IsActive:   true,
			ExpiryDate: time.Now().Add(24 * time.Hour),
		})
	}
	return m
}

func (m *memCodes) FindClaimedByRow(ctx context.Context, jobID string, rowNumber int) (*domain.SponsorshipCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.codes {
		if c.ClaimedJobID != nil && *c.ClaimedJobID == jobID && c.ClaimedRow != nil && *c.ClaimedRow == rowNumber {
			cp := *c
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memCodes) ClaimNext(ctx context.Context, purchaseID, jobID string, rowNumber int, now time.Time) (*domain.SponsorshipCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return nil, m.claimErr
	}
	for _, c := range m.codes {
		if c.ClaimedJobID != nil && *c.ClaimedJobID == jobID && c.ClaimedRow != nil && *c.ClaimedRow == rowNumber {
			cp := *c
			return &cp, nil
		}
	}
	for _, c := range m.codes {
		if c.PurchaseID == purchaseID && !c.IsUsed && c.IsActive && c.ClaimedJobID == nil &&
			c.DistributedAt == nil && c.ExpiryDate.After(now) {
			j, r, at := jobID, rowNumber, now
			c.ClaimedJobID, c.ClaimedRow, c.ClaimedAt = &j, &r, &at
			cp := *c
			return &cp, nil
		}
	}
	return nil, domain.ErrNoCodesAvailable
}

func (m *memCodes) MarkDistributed(ctx context.Context, codeID string, d domain.CodeDistribution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.codes {
		if c.ID == codeID {
			at, name, phone, link, ch := d.DistributedAt, d.RecipientName, d.RecipientPhone, d.RedemptionLink, string(d.Channel)
			c.DistributedAt, c.RecipientName, c.RecipientPhone, c.RedemptionLink, c.DistributionChannel = &at, &name, &phone, &link, &ch
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memCodes) Release(ctx context.Context, codeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.codes {
		if c.ID == codeID && c.DistributedAt == nil {
			c.ClaimedJobID, c.ClaimedRow, c.ClaimedAt = nil, nil, nil
			return nil
		}
	}
	return domain.ErrConflict
}

func (m *memCodes) CountAvailable(ctx context.Context, purchaseID string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.codes {
		if c.PurchaseID == purchaseID && c.ClaimedJobID == nil && c.DistributedAt == nil {
			n++
		}
	}
	return n, nil
}

func (m *memCodes) claimedBy(jobID string) map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int)
	for _, c := range m.codes {
		if c.ClaimedJobID != nil && *c.ClaimedJobID == jobID {
			out[c.Code] = *c.ClaimedRow
		}
	}
	return out
}

type memInvitations struct {
	mu    sync.Mutex
	byRow map[claimKey]*domain.Invitation
}

func newMemInvitations() *memInvitations {
	return &memInvitations{byRow: make(map[claimKey]*domain.Invitation)}
}

func (m *memInvitations) CreateForRow(ctx context.Context, inv *domain.Invitation) (*domain.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := claimKey{jobID: inv.JobID, row: inv.RowNumber}
	if existing, ok := m.byRow[key]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *inv
	m.byRow[key] = &cp
	out := cp
	return &out, nil
}

func (m *memInvitations) MarkSent(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.byRow {
		if inv.ID == id {
			inv.Status = domain.InvitationStatusSent
			inv.LinkSentAt = &at
			return nil
		}
	}
	return domain.ErrNotFound
}

type memUsers struct {
	mu    sync.Mutex
	users []*domain.User
}

func (m *memUsers) FindByContact(ctx context.Context, email, phone string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(email, phone)
}

func (m *memUsers) find(email, phone string) (*domain.User, error) {
	for _, u := range m.users {
		if email != "" && u.Email != nil && *u.Email == email {
			return u, nil
		}
	}
	for _, u := range m.users {
		if phone != "" && u.Phone != nil && *u.Phone == phone {
			return u, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memUsers) FindOrCreate(ctx context.Context, u *domain.User) (*domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email, phone := "", ""
	if u.Email != nil {
		email = *u.Email
	}
	if u.Phone != nil {
		phone = *u.Phone
	}
	if existing, err := m.find(email, phone); err == nil {
		return existing, false, nil
	}
	cp := *u
	m.users = append(m.users, &cp)
	return &cp, true, nil
}

type memSubscriptions struct {
	mu      sync.Mutex
	byUser  map[string]*domain.Subscription
	upserts int
}

func newMemSubscriptions() *memSubscriptions {
	return &memSubscriptions{byUser: make(map[string]*domain.Subscription)}
}

func (m *memSubscriptions) GetByUserID(ctx context.Context, userID string) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byUser[userID]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memSubscriptions) Upsert(ctx context.Context, s *domain.Subscription) (*domain.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	cp := *s
	if existing, ok := m.byUser[s.UserID]; ok {
		cp.ID = existing.ID
		cp.CreatedAt = existing.CreatedAt
	}
	m.byUser[s.UserID] = &cp
	out := cp
	return &out, nil
}

type fakeDispatcher struct {
	mu         sync.Mutex
	sent       []messaging.Message
	dispatchFn func(ctx context.Context, msg messaging.Message) (*messaging.Receipt, error)
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, msg messaging.Message) (*messaging.Receipt, error) {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	if f.dispatchFn != nil {
		return f.dispatchFn(ctx, msg)
	}
	return &messaging.Receipt{StatusCode: 202}, nil
}

func (f *fakeDispatcher) messages() []messaging.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]messaging.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

type testEnv struct {
	codes       *memCodes
	invitations *memInvitations
	users       *memUsers
	subs        *memSubscriptions
	messages    *fakeDispatcher
	registry    *Registry
}

func newTestEnv(t interface{ Fatalf(string, ...any) }, codes *memCodes) *testEnv {
	if codes == nil {
		codes = newMemCodes("purchase-1", 0)
	}
	env := &testEnv{
		codes:       codes,
		invitations: newMemInvitations(),
		users:       &memUsers{},
		subs:        newMemSubscriptions(),
		messages:    &fakeDispatcher{},
	}
	registry, err := NewDefaultRegistry(Deps{
		Codes:         env.codes,
		Invitations:   env.invitations,
		Users:         env.users,
		Subscriptions: env.subs,
		Messages:      env.messages,
		RedeemBaseURL: "https://app.example.com/",
	})
	if err != nil {
		t.Fatalf("NewDefaultRegistry() error = %v", err)
	}
	env.registry = registry
	return env
}

func (e *testEnv) process(t interface{ Fatalf(string, ...any) }, job *domain.BulkJob, row int, payload domain.RowPayload) (domain.RowOutcome, error) {
	p, err := e.registry.Lookup(job.JobType)
	if err != nil {
		t.Fatalf("Lookup(%s) error = %v", job.JobType, err)
	}
	return p.Process(context.Background(), job, domain.WorkItem{
		JobID:     job.ID,
		JobType:   job.JobType,
		RowNumber: row,
		Row:       payload,
	})
}

func testJob(jobType domain.JobType, cfg domain.JobConfig, total int) *domain.BulkJob {
	return &domain.BulkJob{
		ID:         "job-1",
		OwnerID:    "owner-1",
		JobType:    jobType,
		Config:     cfg,
		TotalItems: total,
		Status:     domain.JobStatusPending,
	}
}
