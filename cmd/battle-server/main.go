package main

import (
    "context"
    "errors"
    "log"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "go.uber.org/zap"

    "github.com/park285/prompt-battle/internal/archive"
    "github.com/park285/prompt-battle/internal/battle"
    appcfg "github.com/park285/prompt-battle/internal/config"
    "github.com/park285/prompt-battle/internal/content"
    "github.com/park285/prompt-battle/internal/httpapi"
    "github.com/park285/prompt-battle/internal/msgcat"
    "github.com/park285/prompt-battle/internal/obslog"
    "github.com/park285/prompt-battle/internal/store"
)

func main() {
    cfg, err := appcfg.Load()
    if err != nil {
        log.Fatalf("config error: %v", err)
    }
    if err := obslog.InitFromEnv(); err != nil {
        log.Fatalf("logger init error: %v", err)
    }
    defer obslog.Sync()
    logger := obslog.L()

    ctx := context.Background()

    st, err := openStore(ctx, cfg)
    if err != nil {
        logger.Fatal("store_init_error", zap.String("backend", cfg.StoreBackend), zap.Error(err))
    }
    defer st.Close()

    gen := newGenerator(cfg)
    cat, err := msgcat.New(cfg.MessagesDir)
    if err != nil {
        logger.Fatal("messages_init_error", zap.String("dir", cfg.MessagesDir), zap.Error(err))
    }
    mgr := battle.NewManager(st, gen, battle.WithMessages(cat))

    // round archive is optional
    if cfg.DatabaseURL != "" {
        repo, err := archive.NewRepository(cfg.DatabaseURL)
        if err != nil {
            logger.Fatal("archive_init_error", zap.Error(err))
        }
        defer repo.Close()
        sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
        err = repo.EnsureSchema(sctx)
        cancel()
        if err != nil {
            logger.Fatal("archive_schema_error", zap.Error(err))
        }
        mgr.AttachArchive(repo)
    }

    srv := &http.Server{
        Addr: cfg.HTTPAddr,
        Handler: httpapi.SetupRoutes(mgr, httpapi.Options{
            AllowedOrigins:    cfg.WSAllowedOrigins,
            GenerationTimeout: cfg.GenerationTimeout,
        }),
        ReadHeaderTimeout: 10 * time.Second,
    }

    errCh := make(chan error, 1)
    go func() {
        logger.Info("http_listen",
            zap.String("addr", cfg.HTTPAddr),
            zap.String("store", cfg.StoreBackend),
            zap.Bool("openai", cfg.UsesOpenAI()),
            zap.Bool("archive", cfg.DatabaseURL != ""),
        )
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            errCh <- err
        }
    }()

    // Wait for termination signal
    sigCh := make(chan os.Signal, 1)
    signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
    select {
    case sig := <-sigCh:
        logger.Info("shutdown", zap.String("signal", sig.String()))
    case err := <-errCh:
        logger.Error("http_serve_error", zap.Error(err))
    }

    sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
    defer cancel()
    if err := srv.Shutdown(sctx); err != nil {
        logger.Warn("http_shutdown_error", zap.Error(err))
    }
}

func openStore(ctx context.Context, cfg *appcfg.AppConfig) (*store.Store, error) {
    switch cfg.StoreBackend {
    case appcfg.BackendMemory:
        return store.NewMemory(), nil
    default:
        return store.OpenRedis(ctx, cfg.RedisURL, store.RedisOptions{Prefix: cfg.StoreKeyPrefix, TTL: cfg.StoreDocTTL})
    }
}

func newGenerator(cfg *appcfg.AppConfig) content.Generator {
    if !cfg.UsesOpenAI() {
        obslog.L().Warn("content_offline", zap.String("reason", "OPENAI_API_KEY not set; using placard generator"))
        return content.NewPlacard()
    }
    return content.NewOpenAI(cfg.OpenAIAPIKey,
        content.WithBaseURL(cfg.OpenAIBaseURL),
        content.WithModels(cfg.OpenAITopicModel, cfg.OpenAIImageModel, cfg.OpenAIImageSize),
        content.WithTimeout(cfg.GenerationTimeout),
    )
}
