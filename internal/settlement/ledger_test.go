package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/s/courseLedger/internal/alert"
	"github.com/s/courseLedger/internal/apperr"
	"github.com/s/courseLedger/internal/audit"
	"github.com/s/courseLedger/internal/authz"
	"github.com/s/courseLedger/internal/entitlement"
	"github.com/s/courseLedger/internal/metrics"
	"github.com/s/courseLedger/internal/models"
	"github.com/s/courseLedger/internal/promotion"
	"github.com/s/courseLedger/internal/storage"
	"github.com/s/courseLedger/internal/storage/storagetest"
)

type flakyGranter struct {
	*entitlement.Store
	failures int
	calls    int
}

func (f *flakyGranter) GrantPurchase(ctx context.Context, learnerID, courseID, settlementID string) (models.Entitlement, error) {
	f.calls++
	if f.calls <= f.failures {
		return models.Entitlement{}, errors.New("entitlement store unavailable")
	}
	return f.Store.GrantPurchase(ctx, learnerID, courseID, settlementID)
}

type recordingAlerter struct {
	got []alert.Reconciliation
}

func (a *recordingAlerter) Reconcile(_ context.Context, r alert.Reconciliation) error {
	a.got = append(a.got, r)
	return nil
}

type fixture struct {
	ledger  *Ledger
	st      *storage.MemoryStore
	grants  *entitlement.Store
	flaky   *flakyGranter
	alerts  *recordingAlerter
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := storagetest.NewStore(t)
	storagetest.SeedPromo(t, st, models.PromoCode{Code: "AFRIQUE50", DiscountPercent: 50, IsActive: true})
	clock := storagetest.NewClock()
	guard := authz.NewGuard(st, zerolog.Nop())
	auditLog := audit.New(clock.Now)
	grants := entitlement.NewStore(st, guard, auditLog, zerolog.Nop(), clock.Now)
	flaky := &flakyGranter{Store: grants}
	alerts := &recordingAlerter{}
	m := metrics.Nop()
	ledger := NewLedger(Config{RetryAttempts: 3, RetryBackoff: time.Millisecond}, Dependencies{
		Store:        st,
		Guard:        guard,
		Entitlements: flaky,
		Promotions:   promotion.NewEngine(st, guard, zerolog.Nop(), clock.Now),
		Audit:        auditLog,
		Alerter:      alerts,
		Metrics:      m,
		Log:          zerolog.Nop(),
		Now:          clock.Now,
	})
	return &fixture{ledger: ledger, st: st, grants: grants, flaky: flaky, alerts: alerts, metrics: m}
}

func (f *fixture) initiate(t *testing.T, gross int64, code string) models.SettlementView {
	t.Helper()
	rec, err := f.ledger.Initiate(context.Background(), InitiateInput{
		CallerID:     storagetest.LearnerID,
		LearnerID:    storagetest.LearnerID,
		CourseID:     "C",
		InstructorID: storagetest.InstructorID,
		GrossAmount:  gross,
		PromoCode:    code,
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	return rec
}

func TestPurchaseWithPromoCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := f.initiate(t, 10000, "afrique50")
	if rec.Status != models.SettlementPending || rec.NetAmount != 5000 || rec.DiscountPercent != 50 {
		t.Fatalf("unexpected pending record %+v", rec)
	}
	if rec.Currency != "XOF" {
		t.Fatalf("default currency not applied: %s", rec.Currency)
	}

	done, err := f.ledger.Confirm(ctx, rec.ID, ProviderResult{Success: true, ProviderTxID: "tx-1"})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if done.Status != models.SettlementCompleted || done.NetAmount != 5000 {
		t.Fatalf("unexpected completed record %+v", done)
	}
	e, err := f.grants.Current(ctx, storagetest.LearnerID, "C")
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != models.EntitlementActive || e.Source != models.SourcePurchase || e.SettlementID != rec.ID {
		t.Fatalf("unexpected entitlement %+v", e)
	}
}

func TestInitiateIgnoresUnusablePromo(t *testing.T) {
	f := newFixture(t)
	rec := f.initiate(t, 10000, "NOPE")
	if rec.DiscountPercent != 0 || rec.NetAmount != 10000 || rec.PromoCode != "" {
		t.Fatalf("expected full price, got %+v", rec)
	}
}

func TestInitiateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Initiate(ctx, InitiateInput{CallerID: storagetest.InstructorID, LearnerID: storagetest.LearnerID, CourseID: "C", InstructorID: "I", GrossAmount: 100})
	if !errors.Is(err, apperr.Unauthorized) {
		t.Fatalf("buying for someone else: %v", err)
	}
	_, err = f.ledger.Initiate(ctx, InitiateInput{CallerID: storagetest.LearnerID, LearnerID: storagetest.LearnerID, CourseID: "C", InstructorID: "I"})
	if !errors.Is(err, apperr.Validation) {
		t.Fatalf("zero amount: %v", err)
	}
}

func TestConfirmNonPendingMutatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.initiate(t, 10000, "")
	if _, err := f.ledger.Confirm(ctx, rec.ID, ProviderResult{Success: true, ProviderTxID: "tx-1"}); err != nil {
		t.Fatal(err)
	}
	before, _ := f.st.Settlement(ctx, rec.ID)
	grantsBefore := len(storagetest.Audit(t, f.st, models.EventCourseGrant))

	for _, result := range []ProviderResult{{Success: true, ProviderTxID: "tx-2"}, {Success: false, ProviderTxID: "tx-3"}} {
		if _, err := f.ledger.Confirm(ctx, rec.ID, result); !errors.Is(err, apperr.InvalidTransition) {
			t.Fatalf("expected invalid transition, got %v", err)
		}
	}
	after, _ := f.st.Settlement(ctx, rec.ID)
	if after != before {
		t.Fatalf("record changed: %+v -> %+v", before, after)
	}
	if got := len(storagetest.Audit(t, f.st, models.EventCourseGrant)); got != grantsBefore {
		t.Fatalf("duplicate callback granted again: %d -> %d", grantsBefore, got)
	}
}

func TestConfirmUnknown(t *testing.T) {
	f := newFixture(t)
	if _, err := f.ledger.Confirm(context.Background(), "missing", ProviderResult{Success: true}); !errors.Is(err, apperr.NotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConfirmFailedPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.initiate(t, 10000, "")
	done, err := f.ledger.Confirm(ctx, rec.ID, ProviderResult{Success: false})
	if err != nil || done.Status != models.SettlementFailed {
		t.Fatalf("got %+v, %v", done, err)
	}
	if ok, _ := f.grants.IsActive(ctx, storagetest.LearnerID, "C"); ok {
		t.Fatal("failed payment granted access")
	}
}

func TestConfirmRetriesGrant(t *testing.T) {
	f := newFixture(t)
	f.flaky.failures = 2
	rec := f.initiate(t, 10000, "")

	if _, err := f.ledger.Confirm(context.Background(), rec.ID, ProviderResult{Success: true}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if f.flaky.calls != 3 {
		t.Fatalf("expected 3 grant attempts, got %d", f.flaky.calls)
	}
	if got := testutil.ToFloat64(f.metrics.GrantRetries); got != 2 {
		t.Fatalf("retries = %v", got)
	}
	if len(f.alerts.got) != 0 {
		t.Fatal("recovered grant must not alert")
	}
}

func TestConfirmGrantExhaustedIsFatal(t *testing.T) {
	f := newFixture(t)
	f.flaky.failures = 3
	ctx := context.Background()
	rec := f.initiate(t, 10000, "AFRIQUE50")

	_, err := f.ledger.Confirm(ctx, rec.ID, ProviderResult{Success: true})
	if !errors.Is(err, apperr.Fatal) {
		t.Fatalf("expected fatal, got %v", err)
	}
	stored, _ := f.st.Settlement(ctx, rec.ID)
	if stored.Status != models.SettlementCompleted {
		t.Fatalf("payment state must stay completed, got %s", stored.Status)
	}
	recs := storagetest.Audit(t, f.st, models.EventPaymentReconcile)
	if len(recs) != 1 || recs[0].ActorID != models.SystemActor || recs[0].TargetID != rec.ID {
		t.Fatalf("unexpected reconcile records %+v", recs)
	}
	if len(f.alerts.got) != 1 || f.alerts.got[0].NetAmount != 5000 || f.alerts.got[0].Attempts != 3 {
		t.Fatalf("unexpected alerts %+v", f.alerts.got)
	}
	if got := testutil.ToFloat64(f.metrics.Reconciliations); got != 1 {
		t.Fatalf("reconciliations = %v", got)
	}
}

func TestRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.initiate(t, 10000, "")
	if _, err := f.ledger.Refund(ctx, rec.ID, storagetest.AdminID); !errors.Is(err, apperr.InvalidTransition) {
		t.Fatalf("refunding a pending payment: %v", err)
	}
	if _, err := f.ledger.Confirm(ctx, rec.ID, ProviderResult{Success: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ledger.Refund(ctx, rec.ID, storagetest.LearnerID); !errors.Is(err, apperr.Unauthorized) {
		t.Fatalf("learner refund: %v", err)
	}

	done, err := f.ledger.Refund(ctx, rec.ID, storagetest.AdminID)
	if err != nil || done.Status != models.SettlementRefunded {
		t.Fatalf("refund: %+v %v", done, err)
	}
	if ok, _ := f.grants.IsActive(ctx, storagetest.LearnerID, "C"); ok {
		t.Fatal("refund left access active")
	}
	if got := len(storagetest.Audit(t, f.st, models.EventPaymentRefund)); got != 1 {
		t.Fatalf("expected one refund record, got %d", got)
	}
	if got := len(storagetest.Audit(t, f.st, models.EventCourseRevoke)); got != 0 {
		t.Fatalf("revoke inside refund must not be audited separately, got %d", got)
	}
	if _, err := f.ledger.Refund(ctx, rec.ID, storagetest.AdminID); !errors.Is(err, apperr.InvalidTransition) {
		t.Fatalf("second refund: %v", err)
	}
}

func (f *fixture) confirmed(t *testing.T) models.SettlementView {
	t.Helper()
	rec := f.initiate(t, 10000, "")
	done, err := f.ledger.Confirm(context.Background(), rec.ID, ProviderResult{Success: true})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	return done
}

func refundRevoked(t *testing.T, st storage.Reader) bool {
	t.Helper()
	recs := storagetest.Audit(t, st, models.EventPaymentRefund)
	if len(recs) == 0 {
		t.Fatal("no refund record")
	}
	var meta struct {
		EntitlementRevoked bool `json:"entitlement_revoked"`
	}
	if err := json.Unmarshal(recs[0].Metadata, &meta); err != nil {
		t.Fatal(err)
	}
	return meta.EntitlementRevoked
}

func TestRefundKeepsAccessPaidByLaterPurchase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.confirmed(t)
	second := f.confirmed(t)

	if _, err := f.ledger.Refund(ctx, first.ID, storagetest.AdminID); err != nil {
		t.Fatal(err)
	}
	if ok, _ := f.grants.IsActive(ctx, storagetest.LearnerID, "C"); !ok {
		t.Fatal("refund of the first payment revoked access paid by the second")
	}
	e, _ := f.grants.Current(ctx, storagetest.LearnerID, "C")
	if e.SettlementID != second.ID {
		t.Fatalf("entitlement points at %s, want %s", e.SettlementID, second.ID)
	}
	if refundRevoked(t, f.st) {
		t.Fatal("refund record claims access was revoked")
	}
}

func TestRefundKeepsLaterAdminGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	paid := f.confirmed(t)

	if err := f.grants.Revoke(ctx, storagetest.AdminID, storagetest.LearnerID, "C"); err != nil {
		t.Fatal(err)
	}
	_, err := f.grants.Grant(ctx, entitlement.GrantInput{
		CallerID:  storagetest.AdminID,
		LearnerID: storagetest.LearnerID,
		CourseID:  "C",
		Source:    models.SourceAdminGrant,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.ledger.Refund(ctx, paid.ID, storagetest.AdminID); err != nil {
		t.Fatal(err)
	}
	if ok, _ := f.grants.IsActive(ctx, storagetest.LearnerID, "C"); !ok {
		t.Fatal("refund revoked an unrelated admin grant")
	}
	if refundRevoked(t, f.st) {
		t.Fatal("refund record claims access was revoked")
	}
}

type brokenPromos struct {
	readers []storage.Reader
}

func (b *brokenPromos) ResolveIn(_ context.Context, r storage.Reader, _ string) (int, error) {
	b.readers = append(b.readers, r)
	return 0, errors.New("promo table unavailable")
}

func TestInitiatePromoFailureCreatesNothing(t *testing.T) {
	f := newFixture(t)
	promos := &brokenPromos{}
	f.ledger.promos = promos

	_, err := f.ledger.Initiate(context.Background(), InitiateInput{
		CallerID:     storagetest.LearnerID,
		LearnerID:    storagetest.LearnerID,
		CourseID:     "C",
		InstructorID: storagetest.InstructorID,
		GrossAmount:  10000,
		PromoCode:    "AFRIQUE50",
	})
	if err == nil {
		t.Fatal("expected promo lookup failure to fail the purchase")
	}
	if len(promos.readers) != 1 || promos.readers[0] == storage.Reader(f.st) {
		t.Fatalf("promo not resolved through the group handle: %v", promos.readers)
	}
	items, _ := f.st.Settlements(context.Background(), storage.SettlementFilter{})
	if len(items) != 0 {
		t.Fatalf("settlement created despite failure: %+v", items)
	}
}

func TestFraudReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.initiate(t, 10000, "")

	if _, err := f.ledger.ResolveFraud(ctx, rec.ID, storagetest.AdminID); !errors.Is(err, apperr.InvalidTransition) {
		t.Fatalf("resolving an unflagged record: %v", err)
	}
	if err := f.ledger.FlagFraud(ctx, rec.ID, 120); !errors.Is(err, apperr.Validation) {
		t.Fatalf("score out of range: %v", err)
	}
	if err := f.ledger.FlagFraud(ctx, rec.ID, 87); err != nil {
		t.Fatal(err)
	}
	queue, _ := f.ledger.ListFlagged(ctx, storagetest.AdminID)
	if len(queue) != 1 || queue[0].Fraud.RiskScore != 87 {
		t.Fatalf("unexpected queue %+v", queue)
	}
	if _, err := f.ledger.ResolveFraud(ctx, rec.ID, storagetest.LearnerID); !errors.Is(err, apperr.Unauthorized) {
		t.Fatalf("learner resolve: %v", err)
	}

	for range 2 {
		got, err := f.ledger.ResolveFraud(ctx, rec.ID, storagetest.AdminID)
		if err != nil || !got.Fraud.Reviewed || got.Fraud.ReviewedBy != storagetest.AdminID {
			t.Fatalf("resolve: %+v %v", got.Fraud, err)
		}
	}
	if got := len(storagetest.Audit(t, f.st, models.EventSecurityResolve)); got != 1 {
		t.Fatalf("expected one resolve record, got %d", got)
	}
	if queue, _ := f.ledger.ListFlagged(ctx, storagetest.AdminID); len(queue) != 0 {
		t.Fatalf("resolved record still queued: %+v", queue)
	}

	if err := f.ledger.FlagFraud(ctx, rec.ID, 95); err != nil {
		t.Fatal(err)
	}
	if queue, _ := f.ledger.ListFlagged(ctx, storagetest.AdminID); len(queue) != 1 {
		t.Fatal("re-flag must reopen the review")
	}
}

func TestInstructorBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, code := range []string{"AFRIQUE50", ""} {
		rec := f.initiate(t, 10000, code)
		if _, err := f.ledger.Confirm(ctx, rec.ID, ProviderResult{Success: true}); err != nil {
			t.Fatal(err)
		}
	}
	f.initiate(t, 7000, "")

	err := f.st.Atomic(ctx, func(tx storage.Tx) error {
		for i, p := range []models.PayoutRequest{
			{Amount: 3000, Status: models.PayoutPending},
			{Amount: 1000, Status: models.PayoutRejected},
		} {
			p.ID = string(rune('a' + i))
			p.InstructorID = storagetest.InstructorID
			p.Currency = "XOF"
			p.Method = models.PayoutMobileMoney
			if err := tx.CreatePayout(ctx, &p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := f.ledger.Balance(ctx, storagetest.InstructorID, "xof")
	if err != nil {
		t.Fatal(err)
	}
	if got != 12000 {
		t.Fatalf("balance = %d, want 12000", got)
	}
	if _, err := f.ledger.Balance(ctx, storagetest.LearnerID, "XOF"); !errors.Is(err, apperr.Unauthorized) {
		t.Fatalf("learner balance: %v", err)
	}
}

func TestGetChecksOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	storagetest.SeedUser(t, f.st, "learner-2", models.RoleLearner)
	rec := f.initiate(t, 10000, "")

	for _, caller := range []string{storagetest.LearnerID, storagetest.InstructorID, storagetest.AdminID} {
		if _, err := f.ledger.Get(ctx, caller, rec.ID); err != nil {
			t.Fatalf("%s: %v", caller, err)
		}
	}
	if _, err := f.ledger.Get(ctx, "learner-2", rec.ID); !errors.Is(err, apperr.Unauthorized) {
		t.Fatalf("stranger read: %v", err)
	}
}
