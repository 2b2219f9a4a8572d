package database

import (
	"context"
	"testing"
	"time"

	"github.com/s/courseLedger/internal/models"
	"github.com/s/courseLedger/internal/storage"
)

func TestSeedPromosKeepsExistingCodes(t *testing.T) {
	st := storage.NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

	err := st.Atomic(ctx, func(tx storage.Tx) error {
		return tx.SavePromoCode(ctx, &models.PromoCode{Code: "AFRIQUE50", DiscountPercent: 50})
	})
	if err != nil {
		t.Fatal(err)
	}

	created, err := SeedPromos(ctx, st, now)
	if err != nil {
		t.Fatal(err)
	}
	if created != len(DemoPromos)-1 {
		t.Fatalf("created %d codes", created)
	}
	p, _ := st.PromoCode(ctx, "AFRIQUE50")
	if p.IsActive {
		t.Fatal("seed re-enabled a code an admin had disabled")
	}
	if again, _ := SeedPromos(ctx, st, now); again != 0 {
		t.Fatalf("second seed created %d codes", again)
	}
}
