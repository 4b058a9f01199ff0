package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"novacv/internal/catalog"
	"novacv/internal/config"
	"novacv/internal/domain/ports/adapter"
	aiAdapters "novacv/internal/infra/adapters/ai"
	payAdapters "novacv/internal/infra/adapters/payment"
	tele "novacv/internal/infra/adapters/telegram"
	pg "novacv/internal/infra/db/postgres"
	"novacv/internal/infra/logging"
	red "novacv/internal/infra/redis"
	"novacv/internal/infra/security"
	"novacv/internal/infra/worker"
	"novacv/internal/usecase"
)

// app holds every long-lived dependency built from config.
type app struct {
	cfg *config.Config
	log *zerolog.Logger

	pool      *pgxpool.Pool
	redis     *red.Client
	catalog   *catalog.Catalog
	users     pg.CachedUserRepo
	subs      *pg.PostgresSubscriptionRepo
	processed *pg.PostgresProcessedEventRepo
	tm        *pg.TxManager
	provider  adapter.PaymentProvider
	alertPool *worker.Pool
	alerts    adapter.AlertNotifier

	userUC      usecase.UserUseCase
	planUC      usecase.PlanUseCase
	webhookUC   usecase.WebhookUseCase
	entUC       usecase.EntitlementUseCase
	checkoutUC  usecase.CheckoutUseCase
	ledgerUC    usecase.LedgerUseCase
	reconcileUC usecase.ReconcileUseCase
}

func loadApp(f *rootFlags) (*config.Config, *zerolog.Logger, error) {
	cfg, err := config.LoadConfig(f.configPath, f.dev)
	if err != nil {
		return nil, nil, err
	}
	log := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		log.Warn().Msg("[DEV MODE] Enabled")
	}
	return cfg, log, nil
}

// buildApp connects to Postgres and Redis and wires the use cases. The alert
// pool is started on ctx; close stops it and releases connections.
func buildApp(ctx context.Context, cfg *config.Config, log *zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	cat, err := catalog.Load(cfg.Plans.Path, catalog.WithPriceIDs(cfg.Payment.Paddle.PriceIDs))
	if err != nil {
		return nil, fmt.Errorf("plan catalog: %w", err)
	}
	a.catalog = cat

	a.pool, err = pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.redis, err = red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	var sealer pg.PayloadSealer
	if cfg.Security.EncryptionKey != "" {
		c, err := security.NewPayloadCipher(cfg.Security.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("encryption: %w", err)
		}
		sealer = c
	} else {
		log.Warn().Msg("security.encryption_key not set; webhook payloads are stored in clear text")
	}

	a.users = pg.NewUserRepoCacheDecorator(pg.NewPostgresUserRepo(a.pool), a.redis, cfg.Redis.TTL, log)
	a.subs = pg.NewPostgresSubscriptionRepo(a.pool, sealer)
	a.processed = pg.NewPostgresProcessedEventRepo(a.pool)
	a.tm = pg.NewTxManager(a.pool)

	a.provider, err = buildProvider(cfg)
	if err != nil {
		return nil, err
	}

	a.alertPool = worker.NewPool(cfg.Alerts.Workers, log)
	a.alertPool.Start(ctx)
	if cfg.Alerts.TelegramToken != "" {
		n, err := tele.NewTelegramAlertNotifier(cfg.Alerts.TelegramToken, cfg.Alerts.ChatIDs, a.alertPool, log)
		if err != nil {
			return nil, fmt.Errorf("alerts: %w", err)
		}
		a.alerts = n
	} else {
		a.alerts = tele.NewNoopNotifier(log)
	}

	a.userUC = usecase.NewUserUseCase(a.users, cat, a.tm, log)
	a.planUC = usecase.NewPlanUseCase(cat)
	a.webhookUC = usecase.NewWebhookUseCase(a.users, a.subs, a.processed, a.tm, cat, log,
		usecase.WithEventLock(red.NewLocker(a.redis), cfg.Payment.WebhookLockTTL),
		usecase.WithWebhookCache(a.users),
		usecase.WithWebhookAlerts(a.alerts),
	)
	a.entUC = usecase.NewEntitlementUseCase(a.users, a.subs, a.tm, cat, a.provider, a.users, log)
	a.checkoutUC = usecase.NewCheckoutUseCase(a.users, cat, a.provider, red.NewRateLimiter(a.redis),
		usecase.CheckoutLimits{Limit: cfg.Payment.CheckoutLimit, Window: cfg.Payment.CheckoutWindow},
		cfg.Payment.SuccessURL, log)
	a.ledgerUC = usecase.NewLedgerUseCase(a.users, a.subs, log)
	a.reconcileUC = usecase.NewReconcileUseCase(a.users, a.subs, a.tm, cat, a.users, a.alerts, log)

	ok = true
	return a, nil
}

func (a *app) close() {
	if a.alertPool != nil {
		a.alertPool.Stop()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close redis")
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func buildProvider(cfg *config.Config) (adapter.PaymentProvider, error) {
	switch cfg.Payment.Provider {
	case "noop":
		return payAdapters.NewNoopPaymentGateway(), nil
	default:
		p := cfg.Payment.Paddle
		gw, err := payAdapters.NewPaddleGateway(p.APIKey, p.WebhookSecret, p.Sandbox)
		if err != nil {
			return nil, fmt.Errorf("paddle: %w", err)
		}
		return gw, nil
	}
}

// buildAI routes between the configured providers behind one concurrency
// limit. Without any key the assistant answers with canned drafts.
func buildAI(ctx context.Context, cfg config.AIConfig, log *zerolog.Logger) (adapter.AIServiceAdapter, string, error) {
	model := cfg.DefaultModel
	by := map[string]adapter.AIServiceAdapter{}
	if cfg.OpenAIKey != "" {
		oa, err := aiAdapters.NewOpenAIAdapter(cfg.OpenAIKey, model, cfg.MaxOutputTokens)
		if err != nil {
			return nil, "", fmt.Errorf("openai adapter: %w", err)
		}
		by["openai"] = oa
	}
	if cfg.GeminiKey != "" {
		if cfg.OpenAIKey == "" && !strings.HasPrefix(strings.ToLower(model), "gemini") {
			log.Warn().Str("model", model).Msg("only gemini is configured; using gemini-2.0-flash")
			model = "gemini-2.0-flash"
		}
		gm, err := aiAdapters.NewGeminiAdapter(ctx, cfg.GeminiKey, cfg.GeminiURL, model, cfg.MaxOutputTokens)
		if err != nil {
			return nil, "", fmt.Errorf("gemini adapter: %w", err)
		}
		by["gemini"] = gm
	}
	if len(by) == 0 {
		log.Warn().Msg("no AI provider configured; using canned drafts")
		return aiAdapters.NewNoopAIAdapter(log), model, nil
	}
	def := "openai"
	if by["openai"] == nil {
		def = "gemini"
	}
	log.Info().Str("default_provider", def).Str("model", model).Int("providers", len(by)).Msg("AI adapters ready")
	return aiAdapters.NewLimitedAI(aiAdapters.NewMultiAIAdapter(def, by, nil), cfg.ConcurrentLimit), model, nil
}
