// Command goadmin-smoke seeds admin users into Redis and drives the engine's
// hot paths concurrently, printing latency percentiles per phase.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	goAdmin "github.com/MrEthical07/goAdmin"
	promexport "github.com/MrEthical07/goAdmin/metrics/export/prometheus"
	outbox "github.com/MrEthical07/goAdmin/outbox/sqlite"
	"github.com/alicebob/miniredis/v2"
	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// cmdConfig is read from the environment; flags size the run.
type cmdConfig struct {
	RedisAddr    string        `env:"REDIS_ADDR"`
	RedisPrefix  string        `env:"GOADMIN_REDIS_PREFIX" envDefault:"gasmoke"`
	OutboxPath   string        `env:"GOADMIN_OUTBOX_PATH"`
	MetricsAddr  string        `env:"GOADMIN_METRICS_ADDR"`
	HistorySize  int           `env:"GOADMIN_HISTORY_SIZE" envDefault:"5"`
	AccessTTL    time.Duration `env:"GOADMIN_ACCESS_TTL" envDefault:"15m"`
	Argon2Memory uint32        `env:"GOADMIN_ARGON2_MEMORY_KB" envDefault:"8192"`
	Argon2Time   uint32        `env:"GOADMIN_ARGON2_TIME" envDefault:"1"`
}

const seedPassword = "smoke-password-0"

func main() {
	var (
		admins      = flag.Int("admins", 200, "number of admin users to seed")
		concurrency = flag.Int("concurrency", 32, "number of concurrent workers")
		ops         = flag.Int("ops", 2000, "operations per phase")
	)
	flag.Parse()

	if *admins <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "admins, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	var cfg cmdConfig
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parse env: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *admins, *concurrency, *ops); err != nil {
		fmt.Fprintf(os.Stderr, "smoke failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg cmdConfig, admins, concurrency, ops int) error {
	client, cleanup, err := openRedis(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer cleanup()

	var mail goAdmin.MailTransport
	if cfg.OutboxPath != "" {
		ob, err := outbox.Open(ctx, cfg.OutboxPath, outbox.Options{})
		if err != nil {
			return err
		}
		defer ob.Close()
		mail = ob
		fmt.Printf("queueing notifications in %s\n", cfg.OutboxPath)
	}

	engineCfg, err := engineConfig(cfg)
	if err != nil {
		return err
	}
	engine, err := goAdmin.New().
		WithConfig(engineCfg).
		WithRedis(client).
		WithMailTransport(mail).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	org, users, err := seed(ctx, engine, cfg, admins)
	if err != nil {
		return err
	}
	fmt.Printf("seeded %d admins into organization %s\n", len(users), org.Name)

	var tokensMu sync.Mutex
	tokens := make([]string, len(users))
	issue := runPhase(ops, concurrency, func(i int) error {
		idx := i % len(users)
		tok, err := engine.IssueToken(ctx, goAdmin.TokenRequest{
			GrantType: goAdmin.GrantPassword,
			Username:  users[idx].Username,
			Password:  seedPassword,
		})
		if err != nil {
			return err
		}
		tokensMu.Lock()
		tokens[idx] = tok.Value
		tokensMu.Unlock()
		return nil
	})

	validate := runPhase(ops, concurrency, func(i int) error {
		idx := i % len(users)
		if tokens[idx] == "" {
			return nil
		}
		_, err := engine.ValidateAccess(ctx, tokens[idx])
		return err
	})

	reset := runPhase(len(users), concurrency, func(i int) error {
		rt, err := engine.IssueResetToken(ctx, users[i].ID, 0)
		if err != nil {
			return err
		}
		next := fmt.Sprintf("smoke-password-%d", i+1)
		return engine.RedeemResetToken(ctx, goAdmin.RedeemResetRequest{
			Identifier: users[i].Email,
			Token:      rt.Value,
			Password1:  next,
			Password2:  next,
		})
	})

	// Every token issued before the resets must now be stale.
	var stillValid int64
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		if _, err := engine.ValidateAccess(ctx, tok); !errors.Is(err, goAdmin.ErrAccessTokenStale) {
			stillValid++
		}
	}

	fmt.Println("---- results ----")
	printStats("issue", issue)
	printStats("validate", validate)
	printStats("reset", reset)
	fmt.Printf("tokens surviving password reset: %d\n", stillValid)
	fmt.Printf("audit dropped: %d\n", engine.AuditDropped())

	if cfg.MetricsAddr != "" {
		return serveMetrics(ctx, cfg.MetricsAddr, engine)
	}
	if stillValid > 0 {
		return fmt.Errorf("%d tokens survived a password reset", stillValid)
	}
	return nil
}

func openRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func engineConfig(cfg cmdConfig) (goAdmin.Config, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return goAdmin.Config{}, fmt.Errorf("generate signing key: %w", err)
	}

	out := goAdmin.DefaultConfig()
	out.JWT.PrivateKey = priv
	out.JWT.PublicKey = pub
	out.JWT.AccessTTL = cfg.AccessTTL
	out.Password.Memory = cfg.Argon2Memory
	out.Password.Time = cfg.Argon2Time
	out.Password.Parallelism = 1
	out.Store.RedisPrefix = cfg.RedisPrefix
	out.Metrics.Enabled = true
	out.Metrics.EnableLatencyHistograms = true
	out.Audit.Enabled = true
	return out, nil
}

func seed(ctx context.Context, engine *goAdmin.Engine, cfg cmdConfig, n int) (*goAdmin.Organization, []*goAdmin.AdminUser, error) {
	owner, err := engine.CreateAdminUser(ctx, goAdmin.CreateAdminUserRequest{
		Username:     "smoke-owner",
		Email:        "owner@smoke.invalid",
		Name:         "Smoke Owner",
		Password:     seedPassword,
		Activated:    true,
		Organization: "smoke",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("seed owner: %w", err)
	}
	org, err := engine.UpdateOrganizationProperties(ctx, "smoke", map[string]any{
		"passwordHistorySize": cfg.HistorySize,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("configure organization: %w", err)
	}

	users := make([]*goAdmin.AdminUser, n)
	users[0] = owner
	for i := 1; i < n; i++ {
		u, err := engine.CreateAdminUser(ctx, goAdmin.CreateAdminUserRequest{
			Username:     fmt.Sprintf("smoke-%d", i),
			Email:        fmt.Sprintf("smoke-%d@smoke.invalid", i),
			Name:         fmt.Sprintf("Smoke %d", i),
			Password:     seedPassword,
			Activated:    true,
			Organization: "smoke",
		})
		if err != nil {
			return nil, nil, fmt.Errorf("seed admin %d: %w", i, err)
		}
		users[i] = u
	}
	return org, users, nil
}

func serveMetrics(ctx context.Context, addr string, engine *goAdmin.Engine) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(promexport.NewPrometheusExporter(engine).Collector()); err != nil {
		return fmt.Errorf("register collector: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("goadmin-smoke: serving metrics on %s/metrics until interrupted", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func runPhase(ops, concurrency int, op func(i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
