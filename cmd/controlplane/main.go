// Package main is the entry point for the planner control plane.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/limiquantix/planner/internal/config"
	"github.com/limiquantix/planner/internal/drs"
	"github.com/limiquantix/planner/internal/ha"
	"github.com/limiquantix/planner/internal/repository/etcd"
	"github.com/limiquantix/planner/internal/repository/memory"
	"github.com/limiquantix/planner/internal/repository/postgres"
	"github.com/limiquantix/planner/internal/repository/redis"
	"github.com/limiquantix/planner/internal/server"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	app = kingpin.New("controlplane", "Planner control plane: DRS engine and plan API")

	configPath = app.Flag("config", "Path to config file").
			Short('c').
			Envar("PLANNER_CONFIG").
			String()
)

func main() {
	app.Version(fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate))
	app.HelpFlag.Short('h')
	kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := config.Load(*configPath)
	app.FatalIfError(err, "Failed to load config")

	logger := setupLogger(cfg.Logging)
	defer logger.Sync()

	logger.Info("Starting planner control plane",
		zap.String("version", version),
		zap.String("commit", commit),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Received signal", zap.String("signal", sig.String()))
		cancel()
	}()

	repos := drs.Repositories{
		Nodes:    memory.NewNodeRepository(),
		VMs:      memory.NewVMRepository(),
		Policies: memory.NewPolicyRepository(),
		Plans:    memory.NewPlanRepository(),
		Cache:    memory.NewPlanCache(cfg.Redis.PlanTTL),
	}
	var (
		srvOpts    []server.ServerOption
		engineOpts []drs.Option
	)

	if cfg.Database.Enabled {
		db, err := postgres.NewDB(ctx, cfg.Database, logger)
		if err != nil {
			logger.Warn("PostgreSQL unavailable, keeping plans in memory", zap.Error(err))
		} else {
			repos.Plans = postgres.NewPlanRepository(db, logger)
			srvOpts = append(srvOpts, server.WithPostgreSQL(db))
		}
	}

	if cfg.Redis.Enabled {
		cache, err := redis.NewCache(cfg.Redis, logger)
		if err != nil {
			logger.Warn("Redis unavailable, caching plans in memory", zap.Error(err))
		} else {
			repos.Cache = cache
			srvOpts = append(srvOpts, server.WithRedis(cache))
		}
	}

	var leaderChecker ha.LeaderChecker
	if cfg.Etcd.Enabled {
		client, err := etcd.NewClient(cfg.Etcd, logger)
		if err != nil {
			logger.Warn("etcd unavailable, running as single instance", zap.Error(err))
		} else {
			leader := client.CampaignForLeader(ctx, "drs", func(isLeader bool) {
				if isLeader {
					logger.Info("This instance is now the DRS leader")
				} else {
					logger.Info("This instance is now a DRS follower")
				}
			})
			leaderChecker = leader
			engineOpts = append(engineOpts, drs.WithLeaderChecker(leader), drs.WithPublisher(client))
			srvOpts = append(srvOpts, server.WithEtcd(client), server.WithLeader(leader))
		}
	}

	engine := drs.NewEngine(drs.Config{DRS: cfg.DRS, Solver: cfg.Solver}, repos, logger, engineOpts...)
	if cfg.HA.Enabled {
		haManager := ha.NewManager(cfg.HA, repos.Nodes, repos.VMs, engine, leaderChecker, logger)
		srvOpts = append(srvOpts, server.WithHA(haManager))
	}
	srv := server.New(cfg, engine, repos, logger, srvOpts...)

	if err := srv.Run(ctx); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}

	logger.Info("Goodbye!")
}

// setupLogger configures the zap logger based on configuration.
func setupLogger(cfg config.LoggingConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapConfig zap.Config
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapConfig.Build()
	if err != nil {
		panic("Failed to create logger: " + err.Error())
	}
	return logger
}
