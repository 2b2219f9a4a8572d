package promotion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/s/courseLedger/internal/apperr"
	"github.com/s/courseLedger/internal/authz"
	"github.com/s/courseLedger/internal/models"
	"github.com/s/courseLedger/internal/storage/storagetest"
)

func TestResolve(t *testing.T) {
	st := storagetest.NewStore(t)
	clock := storagetest.NewClock()
	past := clock.Now().Add(-time.Hour)
	storagetest.SeedPromo(t, st, models.PromoCode{Code: "AFRIQUE50", DiscountPercent: 50, IsActive: true})
	storagetest.SeedPromo(t, st, models.PromoCode{Code: "PAUSED", DiscountPercent: 20})
	storagetest.SeedPromo(t, st, models.PromoCode{Code: "OLD", DiscountPercent: 30, IsActive: true, ExpiresAt: &past})
	e := NewEngine(st, authz.NewGuard(st, zerolog.Nop()), zerolog.Nop(), clock.Now)

	cases := []struct {
		code string
		want int
		err  error
	}{
		{"AFRIQUE50", 50, nil},
		{" afrique50 ", 50, nil},
		{"PAUSED", 0, ErrInvalid},
		{"OLD", 0, ErrInvalid},
		{"NOPE", 0, ErrInvalid},
		{"", 0, ErrInvalid},
	}
	for _, tc := range cases {
		got, err := e.Resolve(context.Background(), tc.code)
		if !errors.Is(err, tc.err) || got != tc.want {
			t.Errorf("Resolve(%q) = %d, %v; want %d, %v", tc.code, got, err, tc.want, tc.err)
		}
	}
}

func TestSetActive(t *testing.T) {
	st := storagetest.NewStore(t)
	storagetest.SeedPromo(t, st, models.PromoCode{Code: "AFRIQUE50", DiscountPercent: 50, IsActive: true})
	e := NewEngine(st, authz.NewGuard(st, zerolog.Nop()), zerolog.Nop(), storagetest.NewClock().Now)
	ctx := context.Background()

	if _, err := e.SetActive(ctx, "afrique50", false, storagetest.AdminID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Resolve(ctx, "AFRIQUE50"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("disabled code resolved: %v", err)
	}
	if _, err := e.SetActive(ctx, "MISSING", true, storagetest.AdminID); !errors.Is(err, apperr.NotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := e.SetActive(ctx, "AFRIQUE50", true, storagetest.LearnerID); !errors.Is(err, apperr.Unauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestUpsert(t *testing.T) {
	st := storagetest.NewStore(t)
	e := NewEngine(st, authz.NewGuard(st, zerolog.Nop()), zerolog.Nop(), storagetest.NewClock().Now)
	ctx := context.Background()

	if _, err := e.Upsert(ctx, storagetest.AdminID, PromoInput{Code: "big", DiscountPercent: 101}); !errors.Is(err, apperr.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	promo, err := e.Upsert(ctx, storagetest.AdminID, PromoInput{Code: "welcome", DiscountPercent: 15, IsActive: true})
	if err != nil {
		t.Fatal(err)
	}
	if promo.Code != "WELCOME" {
		t.Fatalf("code not normalized: %s", promo.Code)
	}
	if got, err := e.Resolve(ctx, "Welcome"); err != nil || got != 15 {
		t.Fatalf("Resolve = %d, %v", got, err)
	}
}
