package entitlement

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/s/courseLedger/internal/apperr"
	"github.com/s/courseLedger/internal/audit"
	"github.com/s/courseLedger/internal/authz"
	"github.com/s/courseLedger/internal/batch"
	"github.com/s/courseLedger/internal/models"
	"github.com/s/courseLedger/internal/storage"
	"github.com/s/courseLedger/internal/storage/storagetest"
)

func newTestStore(t *testing.T) (*Store, *storage.MemoryStore, *storagetest.Clock) {
	t.Helper()
	st := storagetest.NewStore(t)
	clock := storagetest.NewClock()
	guard := authz.NewGuard(st, zerolog.Nop())
	return NewStore(st, guard, audit.New(clock.Now), zerolog.Nop(), clock.Now), st, clock
}

func TestGrantTwiceKeepsOneRecord(t *testing.T) {
	s, st, clock := newTestStore(t)
	ctx := context.Background()
	in := GrantInput{CallerID: storagetest.AdminID, LearnerID: "L", CourseID: "C", Source: models.SourceAdminGrant}

	if _, err := s.Grant(ctx, in); err != nil {
		t.Fatalf("first grant: %v", err)
	}
	clock.Advance(time.Hour)
	second, err := s.Grant(ctx, in)
	if err != nil {
		t.Fatalf("second grant: %v", err)
	}

	history, _ := st.EntitlementHistory(ctx, "L", "C")
	if len(history) != 1 {
		t.Fatalf("expected one record, got %d", len(history))
	}
	if !history[0].GrantedAt.Equal(clock.Now()) || !second.GrantedAt.Equal(clock.Now()) {
		t.Fatalf("grant time not refreshed: %v", history[0].GrantedAt)
	}
	if got := len(storagetest.Audit(t, st, models.EventCourseGrant)); got != 2 {
		t.Fatalf("expected 2 grant audit records, got %d", got)
	}
}

func TestGrantNeverShortensExpiry(t *testing.T) {
	s, _, clock := newTestStore(t)
	ctx := context.Background()
	long := clock.Now().Add(30 * 24 * time.Hour)
	short := clock.Now().Add(24 * time.Hour)

	in := GrantInput{CallerID: storagetest.AdminID, LearnerID: "L", CourseID: "C", Source: models.SourceTrial, ExpiresAt: &long}
	if _, err := s.Grant(ctx, in); err != nil {
		t.Fatal(err)
	}
	in.ExpiresAt = &short
	e, err := s.Grant(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if e.ExpiresAt == nil || !e.ExpiresAt.Equal(long) {
		t.Fatalf("expiry shortened to %v", e.ExpiresAt)
	}
}

func TestGrantValidation(t *testing.T) {
	s, _, clock := newTestStore(t)
	past := clock.Now().Add(-time.Minute)
	cases := []struct {
		name string
		in   GrantInput
	}{
		{"purchase source", GrantInput{LearnerID: "L", CourseID: "C", Source: models.SourcePurchase}},
		{"trial without expiry", GrantInput{LearnerID: "L", CourseID: "C", Source: models.SourceTrial}},
		{"expiry in the past", GrantInput{LearnerID: "L", CourseID: "C", Source: models.SourceAdminGrant, ExpiresAt: &past}},
		{"missing course", GrantInput{LearnerID: "L", Source: models.SourceAdminGrant}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.in.CallerID = storagetest.AdminID
			if _, err := s.Grant(context.Background(), tc.in); !errors.Is(err, apperr.Validation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestGrantRequiresAdmin(t *testing.T) {
	s, st, _ := newTestStore(t)
	in := GrantInput{CallerID: storagetest.LearnerID, LearnerID: storagetest.LearnerID, CourseID: "C", Source: models.SourceAdminGrant}
	if _, err := s.Grant(context.Background(), in); !errors.Is(err, apperr.Unauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := st.CurrentEntitlement(context.Background(), storagetest.LearnerID, "C"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("denied grant must not write, got %v", err)
	}
}

func TestRevoke(t *testing.T) {
	s, st, _ := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Grant(ctx, GrantInput{CallerID: storagetest.AdminID, LearnerID: "L", CourseID: "C", Source: models.SourceAdminGrant}); err != nil {
		t.Fatal(err)
	}
	if err := s.Revoke(ctx, storagetest.AdminID, "L", "C"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := s.Revoke(ctx, storagetest.AdminID, "L", "C"); err != nil {
		t.Fatalf("second revoke: %v", err)
	}

	active, err := s.IsActive(ctx, "L", "C")
	if err != nil || active {
		t.Fatalf("expected inactive, got %v %v", active, err)
	}
	recs := storagetest.Audit(t, st, models.EventCourseRevoke)
	if len(recs) != 1 {
		t.Fatalf("expected one revoke record, got %d", len(recs))
	}
	if recs[0].ActorID != storagetest.AdminID || recs[0].TargetID != "L:C" {
		t.Fatalf("unexpected audit record %+v", recs[0])
	}
}

func TestRevokeUnknown(t *testing.T) {
	s, _, _ := newTestStore(t)
	if err := s.Revoke(context.Background(), storagetest.AdminID, "L", "C"); !errors.Is(err, apperr.NotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGrantAfterRevokeKeepsHistory(t *testing.T) {
	s, st, clock := newTestStore(t)
	ctx := context.Background()
	in := GrantInput{CallerID: storagetest.AdminID, LearnerID: "L", CourseID: "C", Source: models.SourceAdminGrant}
	if _, err := s.Grant(ctx, in); err != nil {
		t.Fatal(err)
	}
	if err := s.Revoke(ctx, storagetest.AdminID, "L", "C"); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Minute)
	if _, err := s.Grant(ctx, in); err != nil {
		t.Fatal(err)
	}
	history, _ := st.EntitlementHistory(ctx, "L", "C")
	if len(history) != 2 {
		t.Fatalf("expected revoked record kept next to the new one, got %d", len(history))
	}
	if history[0].Status != models.EntitlementActive || history[1].Status != models.EntitlementRevoked {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestLazyExpiry(t *testing.T) {
	s, st, clock := newTestStore(t)
	ctx := context.Background()
	exp := clock.Now().Add(48 * time.Hour)
	if _, err := s.Grant(ctx, GrantInput{CallerID: storagetest.AdminID, LearnerID: "L", CourseID: "C", Source: models.SourceTrial, ExpiresAt: &exp}); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.IsActive(ctx, "L", "C"); !ok {
		t.Fatal("expected active before expiry")
	}
	clock.Advance(72 * time.Hour)
	if ok, _ := s.IsActive(ctx, "L", "C"); ok {
		t.Fatal("expected inactive after expiry")
	}
	cur, err := s.Current(ctx, "L", "C")
	if err != nil || cur.Status != models.EntitlementExpired {
		t.Fatalf("expected expired view, got %v %v", cur.Status, err)
	}
	stored, _ := st.CurrentEntitlement(ctx, "L", "C")
	if stored.Status != models.EntitlementActive {
		t.Fatalf("reads must not write, stored status %s", stored.Status)
	}
}

func TestGrantPurchaseUsesSystemActor(t *testing.T) {
	s, st, _ := newTestStore(t)
	e, err := s.GrantPurchase(context.Background(), "L", "C", "set-1")
	if err != nil {
		t.Fatal(err)
	}
	if e.Source != models.SourcePurchase || e.SettlementID != "set-1" {
		t.Fatalf("unexpected entitlement %+v", e)
	}
	recs := storagetest.Audit(t, st, models.EventCourseGrant)
	if len(recs) != 1 || recs[0].ActorID != models.SystemActor {
		t.Fatalf("expected one system grant record, got %+v", recs)
	}
}

func TestGrantBulk(t *testing.T) {
	s, st, _ := newTestStore(t)
	ctx := context.Background()
	items := make([]BulkGrant, 10)
	for i := range items {
		items[i] = BulkGrant{LearnerID: fmt.Sprintf("L%d", i), CourseID: "C"}
	}
	// four writes per group: three grants plus the audit record
	coord := batch.New(st, 4)

	res, err := s.GrantBulk(ctx, coord, storagetest.AdminID, items)
	if err != nil {
		t.Fatalf("bulk grant: %v", err)
	}
	if res.Committed != 10 || res.Requested != 10 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := len(storagetest.Audit(t, st, models.EventCourseGrant)); got != 4 {
		t.Fatalf("expected one audit record per group, got %d", got)
	}

	// re-running converges without duplicating records
	if _, err := s.GrantBulk(ctx, coord, storagetest.AdminID, items); err != nil {
		t.Fatal(err)
	}
	for _, item := range items {
		history, _ := st.EntitlementHistory(ctx, item.LearnerID, "C")
		if len(history) != 1 {
			t.Fatalf("%s: expected one record, got %d", item.LearnerID, len(history))
		}
	}
}

func TestGrantBulkRejectsBadItem(t *testing.T) {
	s, st, _ := newTestStore(t)
	items := []BulkGrant{{LearnerID: "L1", CourseID: "C"}, {LearnerID: "", CourseID: "C"}}
	if _, err := s.GrantBulk(context.Background(), batch.New(st, 0), storagetest.AdminID, items); !errors.Is(err, apperr.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := st.CurrentEntitlement(context.Background(), "L1", "C"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("nothing may be written when validation fails")
	}
}

func TestRefreshRecordsGrantingAdmin(t *testing.T) {
	s, st, _ := newTestStore(t)
	ctx := context.Background()
	storagetest.SeedUser(t, st, "admin-2", models.RoleAdmin)

	in := GrantInput{CallerID: storagetest.AdminID, LearnerID: "L", CourseID: "C", Source: models.SourceAdminGrant}
	if _, err := s.Grant(ctx, in); err != nil {
		t.Fatal(err)
	}
	in.CallerID = "admin-2"
	e, err := s.Grant(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	stored, _ := st.CurrentEntitlement(ctx, "L", "C")
	if e.GrantedBy != "admin-2" || stored.GrantedBy != "admin-2" {
		t.Fatalf("granted_by = %q / %q, want admin-2", e.GrantedBy, stored.GrantedBy)
	}
}

func TestAdminRefreshKeepsPurchaseProvenance(t *testing.T) {
	s, st, _ := newTestStore(t)
	ctx := context.Background()
	if _, err := s.GrantPurchase(ctx, "L", "C", "S1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Grant(ctx, GrantInput{CallerID: storagetest.AdminID, LearnerID: "L", CourseID: "C", Source: models.SourceAdminGrant}); err != nil {
		t.Fatal(err)
	}
	stored, _ := st.CurrentEntitlement(ctx, "L", "C")
	if stored.Source != models.SourcePurchase || stored.SettlementID != "S1" || stored.GrantedBy != "" {
		t.Fatalf("purchase provenance lost: %+v", stored)
	}
}

func TestPurchaseRefreshesAdminGrant(t *testing.T) {
	s, st, _ := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Grant(ctx, GrantInput{CallerID: storagetest.AdminID, LearnerID: "L", CourseID: "C", Source: models.SourceAdminGrant}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GrantPurchase(ctx, "L", "C", "S1"); err != nil {
		t.Fatal(err)
	}
	stored, _ := st.CurrentEntitlement(ctx, "L", "C")
	if stored.Source != models.SourcePurchase || stored.SettlementID != "S1" || stored.GrantedBy != "" {
		t.Fatalf("purchase not recorded on refresh: %+v", stored)
	}
}

func TestRevokePurchaseInOnlyTouchesItsOwnPurchase(t *testing.T) {
	s, st, clock := newTestStore(t)
	ctx := context.Background()
	if _, err := s.GrantPurchase(ctx, "L", "C", "S1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GrantPurchase(ctx, "L", "C", "S2"); err != nil {
		t.Fatal(err)
	}

	revoke := func(settlementID string) bool {
		t.Helper()
		var changed bool
		err := st.Atomic(ctx, func(tx storage.Tx) error {
			var err error
			changed, err = s.RevokePurchaseIn(ctx, tx, storagetest.AdminID, "L", "C", settlementID, clock.Now())
			return err
		})
		if err != nil {
			t.Fatalf("revoke for %s: %v", settlementID, err)
		}
		return changed
	}

	if revoke("S1") {
		t.Fatal("refund of S1 revoked access paid by S2")
	}
	if ok, _ := s.IsActive(ctx, "L", "C"); !ok {
		t.Fatal("access lost")
	}
	if !revoke("S2") {
		t.Fatal("S2 access not revoked")
	}
	if ok, _ := s.IsActive(ctx, "L", "C"); ok {
		t.Fatal("access still active")
	}
	if revoke("S3") {
		t.Fatal("unknown settlement revoked something")
	}
}
