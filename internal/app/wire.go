package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	s3blob "github.com/tiltvault/vaultd/internal/blob/s3"
	cacheredis "github.com/tiltvault/vaultd/internal/cache/redis"
	"github.com/tiltvault/vaultd/internal/chain"
	"github.com/tiltvault/vaultd/internal/config"
	"github.com/tiltvault/vaultd/internal/custody"
	"github.com/tiltvault/vaultd/internal/domain"
	"github.com/tiltvault/vaultd/internal/engine"
	"github.com/tiltvault/vaultd/internal/gateway/square"
	"github.com/tiltvault/vaultd/internal/intake"
	"github.com/tiltvault/vaultd/internal/monitor"
	"github.com/tiltvault/vaultd/internal/notify"
	"github.com/tiltvault/vaultd/internal/reconcile"
	"github.com/tiltvault/vaultd/internal/store/postgres"
)

// Dependencies aggregates every wired component. Chain, Signer, and
// Orchestrator are nil in server mode; Archiver and S3 are nil unless the
// bucket is enabled.
type Dependencies struct {
	Postgres *postgres.Client
	Redis    *cacheredis.Client

	Positions *postgres.PositionStore
	Audit     *postgres.AuditStore

	Claims  *cacheredis.ClaimLedger
	Limiter *cacheredis.RateLimiter
	Spend   *cacheredis.SpendTracker
	Metrics *cacheredis.MetricsSink
	Bus     *cacheredis.SignalBus
	Wallets *cacheredis.WalletDirectory

	Gateway  *square.Client
	Verifier *square.WebhookVerifier

	Chain        *chain.Client
	Signer       *custody.Signer
	Orchestrator *engine.Orchestrator

	Intake     *intake.Service
	Reconciler *reconcile.Reconciler

	Tracker  *monitor.Tracker
	Notifier *notify.Notifier

	S3       *s3blob.Client
	Archiver *s3blob.Archiver
}

// Wire constructs all dependencies from the configuration. It returns the
// dependencies, a cleanup function closing every acquired resource in
// reverse order, and an error. On error the partially acquired resources are
// already released.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// Durable stores.
	pg, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pg.Close)

	if cfg.Postgres.RunMigrations {
		if err := pg.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: migrations: %w", err)
		}
	}

	positions := postgres.NewPositionStore(pg.Pool())
	audit := postgres.NewAuditStore(pg.Pool())

	// Shared key-value substrate.
	rdb, err := cacheredis.New(ctx, cacheredis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = rdb.Close() })

	claims := cacheredis.NewClaimLedger(rdb)
	limiter := cacheredis.NewRateLimiter(rdb)
	spend := cacheredis.NewSpendTracker(rdb, cfg.Limits.HourlyCapUSD, cfg.Limits.DailyCapUSD)
	metrics := cacheredis.NewMetricsSink(rdb, logger)
	bus := cacheredis.NewSignalBus(rdb, logger)
	wallets := cacheredis.NewWalletDirectory(rdb)

	// Card gateway.
	gateway := square.NewClient(square.ClientConfig{
		BaseURL:     cfg.Square.BaseURL,
		AccessToken: cfg.Square.AccessToken,
		LocationID:  cfg.Square.LocationID,
		Timeout:     cfg.Square.Timeout.Duration,
	}, logger)
	verifier := square.NewWebhookVerifier(cfg.Square.WebhookSignatureKey, cfg.Square.NotificationURL)

	tracker := monitor.NewTracker(metrics, cfg.Monitor.ErrorSampleRate, logger)
	notifier := buildNotifier(cfg.Notify, logger)

	deps := &Dependencies{
		Postgres:  pg,
		Redis:     rdb,
		Positions: positions,
		Audit:     audit,
		Claims:    claims,
		Limiter:   limiter,
		Spend:     spend,
		Metrics:   metrics,
		Bus:       bus,
		Wallets:   wallets,
		Gateway:   gateway,
		Verifier:  verifier,
		Tracker:   tracker,
		Notifier:  notifier,
	}

	// Chain connectivity and the execution engine only exist in full mode;
	// server mode defers execution to a full-mode peer or the operator.
	var exec executor
	if cfg.Mode == "full" {
		chainClient, err := chain.Dial(ctx, chain.ClientConfig{
			RPCURL:       cfg.Chain.RPCURL,
			ChainID:      cfg.Chain.ChainID,
			PollInterval: cfg.Chain.PollInterval.Duration,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: chain: %w", err)
		}
		closers = append(closers, chainClient.Close)

		custodySvc := custody.NewService(custody.ServiceConfig{
			BaseURL: cfg.Custody.BaseURL,
			APIKey:  cfg.Custody.APIKey,
			Timeout: cfg.Custody.Timeout.Duration,
		})
		signer := custody.NewSigner(custodySvc, wallets, chainClient, cfg.Chain.ChainID, logger)

		engineCfg, err := engineConfig(cfg.Engine)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: engine: %w", err)
		}
		orch := engine.NewOrchestrator(engineCfg, positions, claims, signer, chainClient, chainClient, bus, notifier, logger)

		deps.Chain = chainClient
		deps.Signer = signer
		deps.Orchestrator = orch
		exec = orch
	} else {
		exec = &deferredExecutor{claims: claims, log: logger}
	}

	deps.Intake = intake.NewService(intake.Limits{
		MinAmountUSD: cfg.Limits.MinAmountUSD,
		MaxAmountUSD: cfg.Limits.MaxAmountUSD,
		Currency:     cfg.Limits.Currency,
	}, positions, claims, gateway, spend, audit, exec, logger)

	deps.Reconciler = reconcile.NewReconciler(verifier, positions, claims, audit, exec, logger)

	// Archival to object storage.
	if cfg.S3.Enabled {
		s3c, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3c.Close() })

		deps.S3 = s3c
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3c), s3blob.NewReader(s3c),
			positions, audit, cfg.S3.ExportPassphrase, logger,
		)
	}

	return deps, cleanup, nil
}

// executor matches the execution trigger both intake and reconcile expect.
type executor interface {
	Execute(ctx context.Context, walletAddress string, usdAmount float64, paymentID string) error
}

// deferredExecutor stands in for the orchestrator when the process runs
// without chain connectivity. The charge stands and the claim is held; the
// recorded outcome tells the operator runbook which payments need a
// full-mode re-drive.
type deferredExecutor struct {
	claims domain.ClaimLedger
	log    *slog.Logger
}

func (e *deferredExecutor) Execute(ctx context.Context, walletAddress string, usdAmount float64, paymentID string) error {
	e.log.Warn("execution deferred, no chain connectivity in this mode",
		"payment_id", paymentID, "wallet", walletAddress, "amount_usd", usdAmount)
	if err := e.claims.RecordOutcome(ctx, paymentID, "deferred"); err != nil {
		e.log.Error("record deferred outcome failed", "payment_id", paymentID, "error", err)
	}
	return nil
}

// engineConfig converts the TOML engine section into the orchestrator
// configuration, parsing the decimal wei strings.
func engineConfig(cfg config.EngineConfig) (engine.Config, error) {
	gasTopUp, ok := new(big.Int).SetString(cfg.GasTopUpWei, 10)
	if !ok {
		return engine.Config{}, fmt.Errorf("malformed gas_topup_wei %q", cfg.GasTopUpWei)
	}
	execFee, ok := new(big.Int).SetString(cfg.PerpExecutionFeeWei, 10)
	if !ok {
		return engine.Config{}, fmt.Errorf("malformed perp_execution_fee_wei %q", cfg.PerpExecutionFeeWei)
	}

	return engine.Config{
		HubAddress:             cfg.HubAddress,
		StablecoinAddress:      cfg.StablecoinAddress,
		StablecoinDecimals:     cfg.StablecoinDecimals,
		GasTopUpWei:            gasTopUp,
		LendingPoolAddress:     cfg.LendingPoolAddress,
		PerpRouterAddress:      cfg.PerpRouterAddress,
		PerpIndexToken:         cfg.PerpIndexToken,
		TargetLeverage:         cfg.TargetLeverage,
		PerpExecutionFeeWei:    execFee,
		PerpAcceptablePriceUSD: cfg.PerpAcceptablePriceUSD,
		ConfirmTimeout:         cfg.ConfirmTimeout.Duration,
		Retry: engine.RetryPolicy{
			Attempts: cfg.RetryAttempts,
			Base:     cfg.RetryBase.Duration,
			Max:      cfg.RetryMax.Duration,
		},
	}, nil
}

// buildNotifier assembles the operator alert channels that have credentials
// configured. With no channels the notifier is a filtered no-op.
func buildNotifier(cfg config.NotifyConfig, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, cfg.Events, logger)
}
