package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MAAT_AUTH_JWT_SECRET", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("http.addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Pricing.Granularity != 500 || cfg.Pricing.MinimumFare != 500 {
		t.Errorf("unexpected pricing defaults: %+v", cfg.Pricing)
	}
	if cfg.Pricing.PeakMultiplier != 1.5 {
		t.Errorf("peak multiplier = %v", cfg.Pricing.PeakMultiplier)
	}
	if cfg.Scanner.CardLockTTL != 3*time.Second {
		t.Errorf("card lock ttl = %v", cfg.Scanner.CardLockTTL)
	}
	if len(cfg.Kafka.BrokerList()) != 0 {
		t.Errorf("expected kafka disabled by default")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MAAT_AUTH_JWT_SECRET", "test-secret")
	t.Setenv("MAAT_HTTP_ADDR", ":9090")
	t.Setenv("MAAT_DB_MIGRATE", "true")
	t.Setenv("MAAT_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("MAAT_PRICING_PEAK_MULTIPLIER", "1.15")
	t.Setenv("MAAT_PRICING_PEAK_WINDOWS", "6-10")
	t.Setenv("MAAT_SCANNER_CARD_LOCK_TTL", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("http.addr = %q", cfg.HTTP.Addr)
	}
	if !cfg.DB.Migrate {
		t.Errorf("expected db.migrate true")
	}
	if got := cfg.Kafka.BrokerList(); len(got) != 2 || got[1] != "k2:9092" {
		t.Errorf("brokers = %v", got)
	}
	if cfg.Pricing.PeakMultiplier != 1.15 {
		t.Errorf("peak multiplier = %v", cfg.Pricing.PeakMultiplier)
	}
	w, err := cfg.Pricing.Windows()
	if err != nil || len(w) != 1 || w[0] != (Window{Start: 6, End: 10}) {
		t.Errorf("windows = %v, %v", w, err)
	}
	if cfg.Scanner.CardLockTTL != 5*time.Second {
		t.Errorf("card lock ttl = %v", cfg.Scanner.CardLockTTL)
	}
}

func TestLoad_MissingSecret(t *testing.T) {
	t.Setenv("MAAT_AUTH_JWT_SECRET", "")
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "jwt_secret") {
		t.Fatalf("expected jwt_secret error, got %v", err)
	}
}

func TestLoad_EmptyRedisAddrDisablesRedis(t *testing.T) {
	t.Setenv("MAAT_AUTH_JWT_SECRET", "test-secret")
	t.Setenv("MAAT_REDIS_ADDR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Redis.Addr != "" {
		t.Errorf("redis.addr = %q, want empty", cfg.Redis.Addr)
	}
}

func TestLoad_RejectsNonPositiveMinimumFare(t *testing.T) {
	for _, v := range []string{"0", "-100"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv("MAAT_AUTH_JWT_SECRET", "test-secret")
			t.Setenv("MAAT_PRICING_MINIMUM_FARE", v)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), "minimum_fare") {
				t.Fatalf("expected minimum_fare error, got %v", err)
			}
		})
	}
}

func TestParseWindows(t *testing.T) {
	cases := []struct {
		raw     string
		want    []Window
		wantErr bool
	}{
		{"7-9,17-19", []Window{{7, 9}, {17, 19}}, false},
		{" 7 - 9 ", []Window{{7, 9}}, false},
		{"", nil, false},
		{"9-7", nil, true},
		{"7", nil, true},
		{"a-b", nil, true},
		{"20-25", nil, true},
	}
	for _, tc := range cases {
		got, err := ParseWindows(tc.raw)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseWindows(%q) err = %v", tc.raw, err)
			continue
		}
		if len(got) != len(tc.want) {
			t.Errorf("ParseWindows(%q) = %v, want %v", tc.raw, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("ParseWindows(%q)[%d] = %v, want %v", tc.raw, i, got[i], tc.want[i])
			}
		}
	}
}

func TestWindowContains_HalfOpen(t *testing.T) {
	w := Window{Start: 7, End: 9}
	for hour, want := range map[int]bool{6: false, 7: true, 8: true, 9: false} {
		if got := w.Contains(hour); got != want {
			t.Errorf("Contains(%d) = %v, want %v", hour, got, want)
		}
	}
}
