package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"Care_Community/internal/config"
	"Care_Community/internal/pkg"
	"Care_Community/internal/repository/mysql"
	"Care_Community/internal/repository/redis"
	"Care_Community/internal/router"
	"Care_Community/internal/schedule"
	"Care_Community/internal/service"
)

func newLogger(mode string) *slog.Logger {
	level := slog.LevelInfo
	if mode == gin.DebugMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// app 进程内的全部组件
type app struct {
	cfg      config.Config
	log      *slog.Logger
	services *service.Services
	jwt      *pkg.JWTManager
	tokens   *redis.TokenRepository
	closers  []io.Closer
}

func build(cfg config.Config) (*app, error) {
	log := newLogger(cfg.Server.Mode)
	slog.SetDefault(log)

	clock := schedule.NewSystemClock(cfg.Care.Location())
	if err := mysql.InitDB(cfg.Database, clock.Now); err != nil {
		return nil, fmt.Errorf("init db: %w", err)
	}
	if err := redis.Init(cfg.Redis); err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	a := &app{cfg: cfg, log: log}
	a.jwt = &pkg.JWTManager{
		AccessSecret:  []byte(cfg.JWT.AccessSecret),
		RefreshSecret: []byte(cfg.JWT.RefreshSecret),
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		Now:           clock.Now,
	}
	a.tokens = &redis.TokenRepository{RDB: redis.Client, TTL: cfg.JWT.AccessTTL}

	in := service.Infra{
		JWT:          a.jwt,
		Tokens:       a.tokens,
		Locker:       &redis.DistLock{RDB: redis.Client},
		SupportCache: &redis.SupportCacheRepository{RDB: redis.Client},
	}
	// 没配 SMTP 时不发邀请邮件，Notifier 保持 nil
	if cfg.SMTP.Host != "" {
		mailer := pkg.NewMailer(pkg.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		in.Notifier = service.NewEmailService(mailer, &redis.InviteMailRepository{RDB: redis.Client}, cfg.SMTP.InviteURL)
	}

	switch cfg.Broker.Kind {
	case "kafka":
		p, err := pkg.NewKafkaProducer(pkg.KafkaConfig{Brokers: cfg.Broker.Brokers, Topic: cfg.Broker.Topic})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p)
		in.Sender = service.PublisherSender(p)
	case "rabbitmq":
		p, err := pkg.NewRabbitProducer(pkg.RabbitConfig{URL: cfg.Broker.AMQPURL, Exchange: cfg.Broker.Exchange})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p)
		in.Sender = service.PublisherSender(p)
	}

	a.services = service.New(&service.Deps{DB: mysql.DB, Clock: clock, Care: cfg.Care, Log: log}, in)
	return a, nil
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Warn("close failed", "err", err)
		}
	}
	if err := redis.Close(); err != nil {
		a.log.Warn("close redis failed", "err", err)
	}
}

// ready 数据库和 redis 都能连通
func (a *app) ready(ctx context.Context) error {
	sqlDB, err := mysql.DB.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("db: %w", err)
	}
	return redis.Ping(ctx)
}

// serve HTTP 与三个后台循环同生共死，任一退出都会停掉其它
func serve(ctx context.Context, cfg config.Config) error {
	a, err := build(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	gin.SetMode(cfg.Server.Mode)
	engine := router.InitRouter(router.Deps{
		Services: a.services,
		JWT:      a.jwt,
		Tokens:   a.tokens,
		Server:   cfg.Server,
		Care:     cfg.Care,
		Log:      a.log,
		Ready:    a.ready,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("http listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		a.services.Sweeper.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.services.Fanout.ReconcilerRun(gctx)
		return nil
	})
	g.Go(func() error {
		a.services.Relayer.Run(gctx)
		return nil
	})
	return g.Wait()
}

func sweepOnce(ctx context.Context, cfg config.Config) error {
	a, err := build(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.services.Sweeper.SweepOnce(ctx)
	if err != nil {
		return err
	}
	a.log.Info("sweep done", "result", res)
	return nil
}
