package scanner

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/redis/go-redis/v9"

	"maat/internal/modules/account"
	"maat/internal/modules/station"
	"maat/internal/modules/trip"
	"maat/internal/types"
)

var scannerCols = []string{"id", "station_id", "device_class", "is_active", "last_heartbeat", "created_at"}

func fixedClock() time.Time { return time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC) }

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return srv, client
}

type fakeCards struct {
	card  *account.Card
	rider *account.Rider
	err   error
}

func (f fakeCards) ResolveCard(context.Context, string) (*account.Card, *account.Rider, error) {
	return f.card, f.rider, f.err
}

type fakeTrips struct {
	opened []trip.OpenCommand
	closed []trip.CloseCommand
	err    error
}

func (f *fakeTrips) Open(_ context.Context, cmd trip.OpenCommand) (*trip.Admission, error) {
	f.opened = append(f.opened, cmd)
	if f.err != nil {
		return nil, f.err
	}
	return &trip.Admission{TripID: "t1", BalanceAtEntry: 5000}, nil
}

func (f *fakeTrips) Close(_ context.Context, cmd trip.CloseCommand) (*trip.Receipt, error) {
	f.closed = append(f.closed, cmd)
	if f.err != nil {
		return nil, f.err
	}
	return &trip.Receipt{TripID: "t1", Fare: 1000, NewBalance: 4000, DurationMinutes: 20}, nil
}

type fakeStations map[types.ID]bool

func (f fakeStations) Get(_ context.Context, id types.ID) (*station.Station, error) {
	active, ok := f[id]
	if !ok {
		return nil, station.ErrNotFound
	}
	if !active {
		return nil, station.ErrInactive
	}
	return &station.Station{ID: id, Active: true}, nil
}

func pairedCard() fakeCards {
	riderID := types.ID("r1")
	return fakeCards{
		card:  &account.Card{UID: "card-1", RiderID: &riderID, Status: account.CardActive},
		rider: &account.Rider{ID: riderID, FullName: "Amina", Balance: 5000, Class: account.ClassStandard},
	}
}

type fixture struct {
	mock  pgxmock.PgxPoolIface
	redis *miniredis.Miniredis
	trips *fakeTrips
	svc   *Service
}

func newFixture(t *testing.T, cards Cards) *fixture {
	t.Helper()
	mock := newMock(t)
	srv, client := newRedis(t)
	store := NewStore(mock)
	trips := &fakeTrips{}
	svc := NewService(Deps{
		Store:      store,
		Heartbeats: NewHeartbeats(client, store, nil),
		Locks:      NewCardLocks(client, 3*time.Second),
		Cards:      cards,
		Trips:      trips,
		Stations:   fakeStations{"s1": true, "closed": false},
	}).WithClock(fixedClock)
	return &fixture{mock: mock, redis: srv, trips: trips, svc: svc}
}

func (f *fixture) expectScanner(token, id, class string, active bool) {
	f.mock.ExpectQuery(`FROM scanners\s+WHERE token_digest = \$1`).
		WithArgs(Digest(token)).
		WillReturnRows(pgxmock.NewRows(scannerCols).
			AddRow(types.ID(id), types.ID("s1"), class, active, nil, fixedClock().Add(-24*time.Hour)))
}

func TestParseDeviceClass(t *testing.T) {
	cases := []struct {
		in      string
		want    DeviceClass
		wantErr bool
	}{
		{"entry", ClassEntry, false},
		{"EXIT", ClassExit, false},
		{" registration ", ClassRegistration, false},
		{"register", ClassRegistration, false},
		{"turnstile", "", true},
		{"", "", true},
	}
	for _, tc := range cases {
		got, err := ParseDeviceClass(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrUnsupportedType) {
				t.Errorf("ParseDeviceClass(%q) err = %v, want ErrUnsupportedType", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ParseDeviceClass(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestNewToken(t *testing.T) {
	a, err := NewToken()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	b, _ := NewToken()
	if len(a) != 32 || a == b {
		t.Fatalf("expected distinct 128-bit hex tokens, got %q and %q", a, b)
	}
	if Digest(a) == a || len(Digest(a)) != 64 {
		t.Errorf("unexpected digest %q", Digest(a))
	}
}

func TestScan_EntryOpensTripAndRecordsHeartbeat(t *testing.T) {
	f := newFixture(t, pairedCard())
	f.expectScanner("tok-entry", "sc1", "entry", true)

	res, err := f.svc.Scan(context.Background(), ScanEvent{Token: "tok-entry", CardUID: "card-1"})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.Class != ClassEntry || res.Admission == nil || res.Admission.TripID != "t1" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(f.trips.opened) != 1 {
		t.Fatalf("expected one open, got %d", len(f.trips.opened))
	}
	want := trip.OpenCommand{RiderID: "r1", CardUID: "card-1", StationID: "s1"}
	if f.trips.opened[0] != want {
		t.Errorf("open command = %+v, want %+v", f.trips.opened[0], want)
	}

	got := f.redis.HGet(heartbeatKey, "sc1")
	if got != strconv.FormatInt(fixedClock().UnixMilli(), 10) {
		t.Errorf("heartbeat = %q", got)
	}
	if f.redis.Exists(cardLockKey("card-1")) {
		t.Errorf("card lock must be released after the scan")
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestScan_ExitClosesTrip(t *testing.T) {
	f := newFixture(t, pairedCard())
	f.expectScanner("tok-exit", "sc2", "exit", true)

	res, err := f.svc.Scan(context.Background(), ScanEvent{Token: "tok-exit", CardUID: "card-1"})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.Receipt == nil || res.Receipt.Fare != 1000 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(f.trips.closed) != 1 || f.trips.closed[0].StationID != "s1" || len(f.trips.opened) != 0 {
		t.Fatalf("unexpected trip calls: opened=%v closed=%v", f.trips.opened, f.trips.closed)
	}
}

func TestScan_RegistrationReturnsRiderOnly(t *testing.T) {
	f := newFixture(t, pairedCard())
	f.expectScanner("tok-reg", "sc3", "registration", true)

	res, err := f.svc.Scan(context.Background(), ScanEvent{Token: "tok-reg", CardUID: "card-1"})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.Rider == nil || res.Rider.ID != "r1" {
		t.Fatalf("expected rider in result, got %+v", res)
	}
	if len(f.trips.opened)+len(f.trips.closed) != 0 {
		t.Errorf("registration scan must not touch trips")
	}
}

func TestScan_RejectsUnknownAndInactiveScanners(t *testing.T) {
	f := newFixture(t, pairedCard())
	f.mock.ExpectQuery(`FROM scanners`).WithArgs(Digest("nope")).
		WillReturnRows(pgxmock.NewRows(scannerCols))
	f.expectScanner("tok-off", "sc4", "entry", false)

	ctx := context.Background()
	if _, err := f.svc.Scan(ctx, ScanEvent{Token: "nope", CardUID: "card-1"}); !errors.Is(err, ErrInvalidScanner) {
		t.Errorf("unknown token: got %v", err)
	}
	if _, err := f.svc.Scan(ctx, ScanEvent{Token: "tok-off", CardUID: "card-1"}); !errors.Is(err, ErrInvalidScanner) {
		t.Errorf("inactive scanner: got %v", err)
	}
	if _, err := f.svc.Scan(ctx, ScanEvent{Token: "tok-off"}); !errors.Is(err, ErrBadRequest) {
		t.Errorf("missing card: got %v", err)
	}
	if len(f.trips.opened) != 0 {
		t.Errorf("rejected scans must not reach trips")
	}
}

func TestScan_UnknownStoredClass(t *testing.T) {
	f := newFixture(t, pairedCard())
	f.expectScanner("tok-odd", "sc5", "turnstile", true)

	_, err := f.svc.Scan(context.Background(), ScanEvent{Token: "tok-odd", CardUID: "card-1"})
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestScan_CardErrorsPassThrough(t *testing.T) {
	f := newFixture(t, fakeCards{err: account.ErrCardRevoked})
	f.expectScanner("tok-entry", "sc1", "entry", true)

	_, err := f.svc.Scan(context.Background(), ScanEvent{Token: "tok-entry", CardUID: "card-1"})
	if !errors.Is(err, account.ErrCardRevoked) {
		t.Fatalf("expected ErrCardRevoked, got %v", err)
	}
}

func TestScan_HeldCardLock(t *testing.T) {
	f := newFixture(t, pairedCard())
	f.expectScanner("tok-entry", "sc1", "entry", true)
	if err := f.redis.Set(cardLockKey("card-1"), "someone-else"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	_, err := f.svc.Scan(context.Background(), ScanEvent{Token: "tok-entry", CardUID: "card-1"})
	if !errors.Is(err, ErrScanInProgress) {
		t.Fatalf("expected ErrScanInProgress, got %v", err)
	}
	if got, _ := f.redis.Get(cardLockKey("card-1")); got != "someone-else" {
		t.Errorf("foreign lock must be left alone, got %q", got)
	}
}

func TestScan_TripErrorsPassThrough(t *testing.T) {
	f := newFixture(t, pairedCard())
	f.trips.err = trip.ErrAlreadyOnTrip
	f.expectScanner("tok-entry", "sc1", "entry", true)

	_, err := f.svc.Scan(context.Background(), ScanEvent{Token: "tok-entry", CardUID: "card-1"})
	if !errors.Is(err, trip.ErrAlreadyOnTrip) {
		t.Fatalf("expected ErrAlreadyOnTrip, got %v", err)
	}
	if f.redis.Exists(cardLockKey("card-1")) {
		t.Errorf("card lock must be released after a failed scan")
	}
}

func TestScan_HeartbeatFailureDoesNotFailScan(t *testing.T) {
	mock := newMock(t)
	store := NewStore(mock)
	trips := &fakeTrips{}
	svc := NewService(Deps{
		Store:      store,
		Heartbeats: NewHeartbeats(nil, store, nil),
		Cards:      pairedCard(),
		Trips:      trips,
	}).WithClock(fixedClock)

	mock.ExpectQuery(`FROM scanners`).WithArgs(Digest("tok")).
		WillReturnRows(pgxmock.NewRows(scannerCols).
			AddRow(types.ID("sc1"), types.ID("s1"), "entry", true, nil, fixedClock()))
	mock.ExpectExec(`UPDATE scanners\s+SET last_heartbeat = GREATEST`).
		WithArgs("sc1", fixedClock()).
		WillReturnError(errors.New("connection reset"))

	if _, err := svc.Scan(context.Background(), ScanEvent{Token: "tok", CardUID: "card-1"}); err != nil {
		t.Fatalf("scan must succeed without a heartbeat, got %v", err)
	}
	if len(trips.opened) != 1 {
		t.Fatalf("expected the trip to open")
	}
}

func TestHeartbeats_FlushDrainsBuffer(t *testing.T) {
	mock := newMock(t)
	mock.MatchExpectationsInOrder(false)
	srv, client := newRedis(t)
	hb := NewHeartbeats(client, NewStore(mock), nil)
	ctx := context.Background()

	at1 := fixedClock()
	at2 := fixedClock().Add(time.Minute)
	if err := hb.Touch(ctx, "sc1", at1); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := hb.Touch(ctx, "sc2", at2); err != nil {
		t.Fatalf("touch: %v", err)
	}
	mock.ExpectExec(`UPDATE scanners`).WithArgs("sc1", at1).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE scanners`).WithArgs("sc2", at2).WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	n, err := hb.Flush(ctx)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if n != 2 {
		t.Fatalf("flushed %d, want 2", n)
	}
	if srv.Exists(heartbeatKey) {
		t.Errorf("buffer must be empty after a flush")
	}
	if n, err := hb.Flush(ctx); err != nil || n != 0 {
		t.Errorf("second flush = %d, %v", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRunHeartbeatFlusher_FlushesOnShutdown(t *testing.T) {
	mock := newMock(t)
	_, client := newRedis(t)
	hb := NewHeartbeats(client, NewStore(mock), nil)
	ctx, cancel := context.WithCancel(context.Background())

	if err := hb.Touch(ctx, "sc1", fixedClock()); err != nil {
		t.Fatalf("touch: %v", err)
	}
	mock.ExpectExec(`UPDATE scanners`).WithArgs("sc1", fixedClock()).WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	done := make(chan struct{})
	go func() {
		RunHeartbeatFlusher(ctx, hb, time.Hour)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("flusher did not stop")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRegister(t *testing.T) {
	f := newFixture(t, pairedCard())
	f.mock.ExpectExec(`INSERT INTO scanners`).
		WithArgs(pgxmock.AnyArg(), "s1", "exit", pgxmock.AnyArg(), fixedClock()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	reg, err := f.svc.Register(context.Background(), "s1", "exit")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(reg.Token) != 32 || reg.Scanner.Class != ClassExit || !reg.Scanner.Active {
		t.Fatalf("unexpected registration %+v", reg)
	}

	ctx := context.Background()
	if _, err := f.svc.Register(ctx, "s1", "turnstile"); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("bad class: got %v", err)
	}
	if _, err := f.svc.Register(ctx, "closed", "entry"); !errors.Is(err, station.ErrInactive) {
		t.Errorf("closed station: got %v", err)
	}
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeactivate(t *testing.T) {
	f := newFixture(t, pairedCard())
	f.mock.ExpectExec(`UPDATE scanners SET is_active = FALSE`).WithArgs("sc1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	f.mock.ExpectExec(`UPDATE scanners SET is_active = FALSE`).WithArgs("ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := f.svc.Deactivate(context.Background(), "sc1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := f.svc.Deactivate(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
