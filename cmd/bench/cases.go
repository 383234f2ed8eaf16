// README: Bench cases: environment, scan API behaviour, concurrent taps, throughput and SQL invariants.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"maat/internal/infra"
	"maat/internal/modules/scanner"
	"maat/migrations"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"

	benchBalance  int64 = 10000000
	benchBaseFare int64 = 500
	benchFare     int64 = 700
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
	fx    *fixtures
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name  string
	Focus string
	Run   func(ctx context.Context, r *Runner) Result
}

// fixtures are the rows seeded for one bench run; every id carries the run prefix so
// repeated runs against the same database do not collide.
type fixtures struct {
	prefix     string
	entryStn   string
	exitStn    string
	entryToken string
	exitToken  string
	riders     []string
}

func (f *fixtures) card(i int) string { return "card-" + f.riders[i] }

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) cases() []TestCase {
	base := r.cfg.BaseURL
	return []TestCase{
		{
			Name:  "Env: Postgres connect",
			Focus: "database reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: StatusFail, Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name:  "Env: Redis connect",
			Focus: "heartbeat buffer and card locks reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: StatusSkip, Note: "redis disabled"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name:  "Migration: apply (optional)",
			Focus: "embedded migrations apply cleanly",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: StatusSkip, Note: "apply-migration=false"}
				}
				if err := infra.Migrate(r.cfg.DSN); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name:  "Migration: tables exist",
			Focus: "every table created by the embedded migrations exists",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: StatusFail, Note: "db not configured"}
				}
				tables, err := extractTables(migrations.FS)
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: StatusFail, Note: err.Error()}
					}
					if !exists {
						return Result{Status: StatusFail, Note: "missing table: " + t}
					}
				}
				return Result{Status: StatusPass, Note: fmt.Sprintf("tables=%d", len(tables))}
			},
		},
		{
			Name:  "Seed: stations, riders, scanners",
			Focus: "fixtures for the scan cases",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: StatusFail, Note: "db not configured"}
				}
				fx, err := seed(ctx, r.db, max(r.cfg.Riders, 2))
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				r.fx = fx
				return Result{Status: StatusPass, Note: fmt.Sprintf("prefix=%s riders=%d", fx.prefix, len(fx.riders))}
			},
		},
		{
			Name:  "API: health",
			Focus: "API answers",
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				req, _ := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
				resp, err := r.httpc.Do(req)
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				_ = resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					return Result{Status: StatusFail, Latency: time.Since(start), Note: fmt.Sprintf("status=%d", resp.StatusCode)}
				}
				return Result{Status: StatusPass, Latency: time.Since(start)}
			},
		},

		httpCase("Scan: missing fields -> 400", base+"/api/v1/scanners/scan", map[string]any{}, []int{400}),
		httpCase("Scan: unknown capability token -> 401", base+"/api/v1/scanners/scan", map[string]any{
			"capability_token": "not-a-real-token",
			"card_id":          "card-nobody",
		}, []int{401}),

		fixtureCase("Scan: entry admits rider", func(ctx context.Context, r *Runner) Result {
			return r.expectTap(ctx, r.fx.entryToken, r.fx.card(0), http.StatusOK)
		}),
		fixtureCase("Scan: second entry -> 409", func(ctx context.Context, r *Runner) Result {
			return r.expectTap(ctx, r.fx.entryToken, r.fx.card(0), http.StatusConflict)
		}),
		fixtureCase("Scan: exit charges fare once", func(ctx context.Context, r *Runner) Result {
			return exitCharges(ctx, r)
		}),
		fixtureCase("Scan: exit without open trip -> 409", func(ctx context.Context, r *Runner) Result {
			return r.expectTap(ctx, r.fx.exitToken, r.fx.card(0), http.StatusConflict)
		}),

		fixtureCase("Concurrency: duplicate entry taps", func(ctx context.Context, r *Runner) Result {
			return concurrentTaps(ctx, r, r.fx.entryToken, r.fx.card(1))
		}),
		fixtureCase("Concurrency: duplicate exit taps", func(ctx context.Context, r *Runner) Result {
			return concurrentTaps(ctx, r, r.fx.exitToken, r.fx.card(1))
		}),

		fixtureCase("Perf: scan throughput", perfLoad),

		// Invariants hold across the whole database, not only bench rows.
		sqlCase("Invariant: at most one active trip per rider", `
			SELECT COUNT(*) FROM (
				SELECT rider_id FROM trips WHERE status = 'active'
				GROUP BY rider_id HAVING COUNT(*) > 1
			) v`),
		sqlCase("Invariant: no negative balances", `
			SELECT COUNT(*) FROM riders WHERE balance < 0`),
		sqlCase("Invariant: completed trips charged exactly once", `
			SELECT COUNT(*) FROM (
				SELECT t.id FROM trips t
				LEFT JOIN ledger_entries l ON l.reference = t.id AND l.reason = 'trip_fare'
				WHERE t.status = 'completed'
				GROUP BY t.id HAVING COUNT(l.id) <> 1
			) v`),
		sqlCase("Invariant: open trips carry no fare", `
			SELECT COUNT(*) FROM trips
			WHERE status = 'active' AND (fare IS NOT NULL OR exit_at IS NOT NULL)`),
		fixtureCase("Invariant: bench balances reconcile with ledger", reconcile),

		manualCase("Error: Redis down -> scans still served", "stop Redis; card locks fail open and heartbeats go straight to Postgres"),
		manualCase("Error: DB down -> 503 with Retry-After", "stop Postgres and tap any scanner"),
	}
}

func seed(ctx context.Context, db *pgxpool.Pool, riders int) (*fixtures, error) {
	fx := &fixtures{prefix: "bench-" + uuid.NewString()[:8]}
	fx.entryStn = fx.prefix + "-a"
	fx.exitStn = fx.prefix + "-b"

	for _, id := range []string{fx.entryStn, fx.exitStn} {
		if _, err := db.Exec(ctx, `
			INSERT INTO stations (id, name_en, base_fare, is_active)
			VALUES ($1, $1, $2, TRUE)`, id, benchBaseFare); err != nil {
			return nil, fmt.Errorf("seed station: %w", err)
		}
	}
	if _, err := db.Exec(ctx, `
		INSERT INTO fares (profile_id, from_station_id, to_station_id, price)
		VALUES ('default', $1, $2, $3)`, fx.entryStn, fx.exitStn, benchFare); err != nil {
		return nil, fmt.Errorf("seed fare: %w", err)
	}

	for i := 0; i < riders; i++ {
		id := fmt.Sprintf("%s-r%d", fx.prefix, i)
		if _, err := db.Exec(ctx, `
			INSERT INTO riders (id, full_name, balance) VALUES ($1, $1, $2)`, id, benchBalance); err != nil {
			return nil, fmt.Errorf("seed rider: %w", err)
		}
		if _, err := db.Exec(ctx, `
			INSERT INTO cards (uid, rider_id, status) VALUES ($1, $2, 'active')`, "card-"+id, id); err != nil {
			return nil, fmt.Errorf("seed card: %w", err)
		}
		fx.riders = append(fx.riders, id)
	}

	var err error
	if fx.entryToken, err = seedScanner(ctx, db, fx.prefix+"-in", fx.entryStn, scanner.ClassEntry); err != nil {
		return nil, err
	}
	if fx.exitToken, err = seedScanner(ctx, db, fx.prefix+"-out", fx.exitStn, scanner.ClassExit); err != nil {
		return nil, err
	}
	return fx, nil
}

func seedScanner(ctx context.Context, db *pgxpool.Pool, id, stationID string, class scanner.DeviceClass) (string, error) {
	token, err := scanner.NewToken()
	if err != nil {
		return "", err
	}
	if _, err := db.Exec(ctx, `
		INSERT INTO scanners (id, station_id, device_class, token_digest, is_active)
		VALUES ($1, $2, $3, $4, TRUE)`, id, stationID, string(class), scanner.Digest(token)); err != nil {
		return "", fmt.Errorf("seed scanner: %w", err)
	}
	return token, nil
}

func (r *Runner) tap(ctx context.Context, token, card string) (int, []byte, error) {
	b, _ := json.Marshal(map[string]string{"capability_token": token, "card_id": card})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/api/v1/scanners/scan", strings.NewReader(string(b)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, body, err
}

func (r *Runner) expectTap(ctx context.Context, token, card string, want int) Result {
	start := time.Now()
	status, _, err := r.tap(ctx, token, card)
	latency := time.Since(start)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if status != want {
		return Result{Status: StatusFail, Latency: latency, Note: fmt.Sprintf("status=%d want=%d", status, want)}
	}
	return Result{Status: StatusPass, Latency: latency}
}

func exitCharges(ctx context.Context, r *Runner) Result {
	before, err := r.balance(ctx, r.fx.riders[0])
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	start := time.Now()
	status, body, err := r.tap(ctx, r.fx.exitToken, r.fx.card(0))
	latency := time.Since(start)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if status != http.StatusOK {
		return Result{Status: StatusFail, Latency: latency, Note: fmt.Sprintf("status=%d", status)}
	}

	var res struct {
		Receipt *struct {
			Fare       int64 `json:"fare"`
			NewBalance int64 `json:"new_balance"`
		} `json:"receipt"`
	}
	if err := json.Unmarshal(body, &res); err != nil || res.Receipt == nil {
		return Result{Status: StatusFail, Latency: latency, Note: "response has no receipt"}
	}
	after, err := r.balance(ctx, r.fx.riders[0])
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if res.Receipt.Fare <= 0 || before-after != res.Receipt.Fare || after != res.Receipt.NewBalance {
		return Result{Status: StatusFail, Latency: latency,
			Note: fmt.Sprintf("fare=%d before=%d after=%d receipt_balance=%d", res.Receipt.Fare, before, after, res.Receipt.NewBalance)}
	}
	return Result{Status: StatusPass, Latency: latency, Note: fmt.Sprintf("fare=%d", res.Receipt.Fare)}
}

// concurrentTaps fires the same tap Concurrency times at once; exactly one may succeed.
func concurrentTaps(ctx context.Context, r *Runner, token, card string) Result {
	wg := sync.WaitGroup{}
	succ, rejected, failed := 0, 0, 0
	mu := sync.Mutex{}

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, _, err := r.tap(ctx, token, card)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				failed++
			case status == http.StatusOK:
				succ++
			case status == http.StatusConflict:
				rejected++
			default:
				failed++
			}
		}()
	}
	wg.Wait()

	note := fmt.Sprintf("success=%d conflict=%d other=%d", succ, rejected, failed)
	if succ == 1 && failed == 0 {
		return Result{Status: StatusPass, Note: note}
	}
	return Result{Status: StatusFail, Note: note}
}

// perfLoad gives each worker its own riders and alternates entry and exit taps for the
// configured duration. Rider 0 and 1 are reserved for the functional cases.
func perfLoad(ctx context.Context, r *Runner) Result {
	pool := r.fx.riders[2:]
	if len(pool) == 0 {
		return Result{Status: StatusSkip, Note: "riders < 3"}
	}
	workers := min(r.cfg.Concurrency, len(pool))
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount int64
	var mu sync.Mutex
	wg := sync.WaitGroup{}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			entering := true
			for i := w; time.Now().Before(end); {
				token := r.fx.exitToken
				if entering {
					token = r.fx.entryToken
				}
				status, _, err := r.tap(ctx, token, "card-"+pool[i])
				mu.Lock()
				if err != nil || status != http.StatusOK {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
				if !entering {
					i += workers
					if i >= len(pool) {
						i = w
					}
				}
				entering = !entering
			}
		}(w)
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: StatusFail, Note: "no scans completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: StatusPass, Note: fmt.Sprintf("scans/s=%.1f errors=%d", rps, errCount)}
}

// reconcile checks that every bench rider's balance equals the seeded balance plus the
// sum of its ledger deltas.
func reconcile(ctx context.Context, r *Runner) Result {
	rows, err := r.db.Query(ctx, `
		SELECT r.id, r.balance, COALESCE(SUM(l.delta), 0)
		FROM riders r
		LEFT JOIN ledger_entries l ON l.rider_id = r.id
		WHERE r.id LIKE $1
		GROUP BY r.id, r.balance`, r.fx.prefix+"-%")
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	defer rows.Close()

	checked := 0
	for rows.Next() {
		var id string
		var balance, delta int64
		if err := rows.Scan(&id, &balance, &delta); err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
		if balance != benchBalance+delta {
			return Result{Status: StatusFail, Note: fmt.Sprintf("%s: balance=%d seeded+ledger=%d", id, balance, benchBalance+delta)}
		}
		checked++
	}
	if err := rows.Err(); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass, Note: fmt.Sprintf("riders=%d", checked)}
}

func (r *Runner) balance(ctx context.Context, riderID string) (int64, error) {
	var b int64
	err := r.db.QueryRow(ctx, `SELECT balance FROM riders WHERE id = $1`, riderID).Scan(&b)
	return b, err
}

func httpCase(name, url string, body any, okStatuses []int) TestCase {
	return TestCase{
		Name:  name,
		Focus: "HTTP API",
		Run: func(ctx context.Context, r *Runner) Result {
			var reader io.Reader
			if body != nil {
				b, _ := json.Marshal(body)
				reader = strings.NewReader(string(b))
			}
			req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
			req.Header.Set("Content-Type", "application/json")
			start := time.Now()
			resp, err := r.httpc.Do(req)
			if err != nil {
				return Result{Status: StatusFail, Note: err.Error()}
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			latency := time.Since(start)

			if contains(okStatuses, resp.StatusCode) {
				return Result{Status: StatusPass, Latency: latency, Note: fmt.Sprintf("status=%d", resp.StatusCode)}
			}
			return Result{Status: StatusFail, Latency: latency, Note: fmt.Sprintf("status=%d", resp.StatusCode)}
		},
	}
}

// fixtureCase skips run when seeding did not happen.
func fixtureCase(name string, run func(ctx context.Context, r *Runner) Result) TestCase {
	return TestCase{
		Name:  name,
		Focus: "Scan flow",
		Run: func(ctx context.Context, r *Runner) Result {
			if r.fx == nil {
				return Result{Status: StatusSkip, Note: "fixtures not seeded"}
			}
			return run(ctx, r)
		},
	}
}

// sqlCase passes when query returns a zero count of violating rows.
func sqlCase(name, query string) TestCase {
	return TestCase{
		Name:  name,
		Focus: "SQL invariant",
		Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return Result{Status: StatusFail, Note: "db not configured"}
			}
			var violations int64
			if err := r.db.QueryRow(ctx, query).Scan(&violations); err != nil {
				return Result{Status: StatusFail, Note: err.Error()}
			}
			if violations != 0 {
				return Result{Status: StatusFail, Note: fmt.Sprintf("violations=%d", violations)}
			}
			return Result{Status: StatusPass}
		},
	}
}

func manualCase(name, note string) TestCase {
	return TestCase{
		Name:  name,
		Focus: "Manual",
		Run: func(ctx context.Context, r *Runner) Result {
			return Result{Status: StatusSkip, Note: note}
		},
	}
}

func contains(list []int, v int) bool {
	for _, i := range list {
		if i == v {
			return true
		}
	}
	return false
}

var createTableRe = regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)

// extractTables lists the tables created by the up migrations in fsys.
func extractTables(fsys fs.FS) ([]string, error) {
	files, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, err
	}
	var tables []string
	for _, f := range files {
		b, err := fs.ReadFile(fsys, f)
		if err != nil {
			return nil, err
		}
		for _, m := range createTableRe.FindAllStringSubmatch(string(b), -1) {
			tables = append(tables, m[1])
		}
	}
	return tables, nil
}
