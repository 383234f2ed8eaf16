package account

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v3"

	"maat/internal/types"
)

var (
	riderCols = []string{"id", "full_name", "balance", "class"}
	cardCols  = []string{"uid", "rider_id", "status"}
)

func strPtr(v string) *string { return &v }

func TestResolveCard(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	svc := NewService(NewStore(mock))
	ctx := context.Background()

	mock.ExpectQuery(`SELECT uid, rider_id, status\s+FROM cards`).WithArgs("04A1").
		WillReturnRows(pgxmock.NewRows(cardCols).AddRow("04A1", strPtr("r1"), strPtr("active")))
	mock.ExpectQuery(`SELECT id, full_name, balance, class\s+FROM riders\s+WHERE id = \$1$`).WithArgs("r1").
		WillReturnRows(pgxmock.NewRows(riderCols).AddRow(types.ID("r1"), "Mona", int64(5000), "regular"))

	card, rider, err := svc.ResolveCard(ctx, "04A1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if card.UID != "04A1" || rider.Balance != 5000 || rider.Class != ClassRegular {
		t.Fatalf("unexpected card/rider %+v %+v", card, rider)
	}

	mock.ExpectQuery(`FROM cards`).WithArgs("unpaired").
		WillReturnRows(pgxmock.NewRows(cardCols).AddRow("unpaired", nil, strPtr("active")))
	if _, _, err := svc.ResolveCard(ctx, "unpaired"); !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("expected ErrCardNotFound for unpaired card, got %v", err)
	}

	mock.ExpectQuery(`FROM cards`).WithArgs("revoked").
		WillReturnRows(pgxmock.NewRows(cardCols).AddRow("revoked", strPtr("r1"), strPtr("revoked")))
	if _, _, err := svc.ResolveCard(ctx, "revoked"); !errors.Is(err, ErrCardRevoked) {
		t.Fatalf("expected ErrCardRevoked, got %v", err)
	}

	mock.ExpectQuery(`FROM cards`).WithArgs("ghost").WillReturnRows(pgxmock.NewRows(cardCols))
	if _, _, err := svc.ResolveCard(ctx, "ghost"); !errors.Is(err, ErrCardNotFound) {
		t.Fatalf("expected ErrCardNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLockRider_UsesForUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	store := NewStore(mock)
	mock.ExpectQuery(`FROM riders\s+WHERE id = \$1 FOR UPDATE`).WithArgs("r1").
		WillReturnRows(pgxmock.NewRows(riderCols).AddRow(types.ID("r1"), "Mona", int64(200), "standard"))

	r, err := store.LockRider(context.Background(), mock, "r1")
	if err != nil {
		t.Fatalf("lock rider: %v", err)
	}
	if r.Class != ClassStandard || r.Balance != 200 {
		t.Fatalf("unexpected rider %+v", r)
	}

	mock.ExpectQuery(`FOR UPDATE`).WithArgs("nobody").WillReturnRows(pgxmock.NewRows(riderCols))
	if _, err := store.LockRider(context.Background(), mock, "nobody"); !errors.Is(err, ErrRiderNotFound) {
		t.Fatalf("expected ErrRiderNotFound, got %v", err)
	}
}

func TestParseClass(t *testing.T) {
	cases := []struct {
		in     string
		want   Class
		wantOK bool
	}{
		{"standard", ClassStandard, true},
		{"regular", ClassRegular, true},
		{"", ClassStandard, true},
		{"vip", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseClass(tc.in)
		if got != tc.want || ok != tc.wantOK {
			t.Errorf("ParseClass(%q) = %q, %v", tc.in, got, ok)
		}
	}
}

func TestRiderCards(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	svc := NewService(NewStore(mock))
	ctx := context.Background()

	mock.ExpectQuery(`FROM riders`).WithArgs("r1").
		WillReturnRows(pgxmock.NewRows(riderCols).AddRow(types.ID("r1"), "Mona", int64(5000), "standard"))
	mock.ExpectQuery(`SELECT uid, status\s+FROM cards\s+WHERE rider_id = \$1\s+ORDER BY created_at, uid`).WithArgs("r1").
		WillReturnRows(pgxmock.NewRows([]string{"uid", "status"}).
			AddRow("04A1", "active").
			AddRow("04B2", "revoked"))

	cards, err := svc.RiderCards(ctx, "r1")
	if err != nil {
		t.Fatalf("rider cards: %v", err)
	}
	if len(cards) != 2 || cards[0].UID != "04A1" || cards[1].Status != CardRevoked {
		t.Fatalf("unexpected cards %+v", cards)
	}
	if cards[0].RiderID == nil || *cards[0].RiderID != "r1" {
		t.Errorf("card must carry its rider id, got %v", cards[0].RiderID)
	}

	mock.ExpectQuery(`FROM riders`).WithArgs("ghost").WillReturnRows(pgxmock.NewRows(riderCols))
	if _, err := svc.RiderCards(ctx, "ghost"); !errors.Is(err, ErrRiderNotFound) {
		t.Fatalf("expected ErrRiderNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
