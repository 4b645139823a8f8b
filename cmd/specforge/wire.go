package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/suPer8Hu/specforge/internal/ai"
	"github.com/suPer8Hu/specforge/internal/config"
	"github.com/suPer8Hu/specforge/internal/coordinator"
	"github.com/suPer8Hu/specforge/internal/db"
	"github.com/suPer8Hu/specforge/internal/deploy"
	"github.com/suPer8Hu/specforge/internal/logging"
	"github.com/suPer8Hu/specforge/internal/project"
	"github.com/suPer8Hu/specforge/internal/store/redisstore"
	"github.com/suPer8Hu/specforge/internal/vm"
)

// app holds everything the api and worker roles share.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	db     *gorm.DB
	redis  *redisstore.Store
	coord  *coordinator.Coordinator
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	gdb, err := db.Open(cfg.DBDSN)
	if err != nil {
		return nil, err
	}

	executor, err := newExecutor(cfg)
	if err != nil {
		if sqlDB, derr := gdb.DB(); derr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}

	reg := newRegistry(cfg)

	repo := project.NewRepo(gdb)
	svc := project.NewService(repo, logger, executor.PublicURL)

	opts := deploy.DefaultOptions()
	opts.ProceedOnVerificationFailure = cfg.ProceedOnVerificationFailure

	a := &app{cfg: cfg, logger: logger, db: gdb}
	a.coord = &coordinator.Coordinator{
		Repo:     repo,
		Projects: svc,
		Provider: func(ctx context.Context) (ai.Provider, error) {
			return reg.Get(ctx, cfg.AIProvider, cfg.AIModel)
		},
		VM:             executor,
		Deploy:         opts,
		VMReadyTimeout: cfg.VMReadyTimeout,
		Logger:         logger,
	}

	if cfg.RedisAddr != "" {
		rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rds.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, live events disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			_ = rds.Close()
		} else {
			a.redis = rds
			a.coord.Publisher = rds
		}
	}
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.logger.Sync()
}

// newRegistry registers both model backends; AI_PROVIDER picks one per run.
func newRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()
	reg.Register("anthropic", "", func(ctx context.Context, model string) (ai.Provider, error) {
		p, err := ai.NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL, model, cfg.AIMaxTokens, cfg.AnthropicThinking)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	reg.Register("openai", cfg.OpenAIModel, func(ctx context.Context, model string) (ai.Provider, error) {
		p, err := ai.NewOpenAIProvider(ai.OpenAIOptions{
			BaseURL:   cfg.OpenAIBaseURL,
			APIKey:    cfg.OpenAIAPIKey,
			Model:     model,
			MaxTokens: int(cfg.AIMaxTokens),
			SiteURL:   cfg.OpenRouterSiteURL,
			AppName:   cfg.OpenRouterAppName,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	})
	return reg
}

func newExecutor(cfg config.Config) (vm.Executor, error) {
	switch strings.ToLower(cfg.VMBackend) {
	case "", "freestyle":
		return vm.NewFreestyleClient(cfg.VMAPIURL, cfg.VMAPIKey, cfg.VMPublicDomain), nil
	case "ssh":
		key, err := os.ReadFile(cfg.SSHKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		ex, err := vm.NewSSHExecutor(vm.SSHOptions{
			Addr:       cfg.SSHAddr,
			User:       cfg.SSHUser,
			PrivateKey: key,
			HostKey:    cfg.SSHHostKey,
			PublicURL:  cfg.SSHPublicURL,
		})
		if err != nil {
			return nil, err
		}
		return ex, nil
	default:
		return nil, fmt.Errorf("unsupported VM_BACKEND=%q", cfg.VMBackend)
	}
}
