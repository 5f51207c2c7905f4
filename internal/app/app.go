// Package app 负责应用级编排:加载配置、初始化依赖、启动交易引擎与
// HTTP 服务。
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	vcfg "voltra/internal/config"
	"voltra/internal/engine"
	"voltra/internal/gateway/notifier"
	"voltra/internal/logger"
	"voltra/internal/order"
	"voltra/internal/store/decisionlog"
	"voltra/internal/store/gormstore"
	apihttp "voltra/internal/transport/http"
)

type App struct {
	cfg        *vcfg.Config
	engine     *engine.Engine
	http       *apihttp.Server
	orders     *order.Manager
	dispatcher *notifier.Dispatcher
	store      *gormstore.GormStore
	decisions  *decisionlog.Store

	// watchCancel stops the correlation matrix file watcher, when enabled.
	watchCancel context.CancelFunc
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *vcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return NewBuilder(cfg).Build(context.Background())
}

// Run 启动引擎与 HTTP 服务,阻塞到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.shutdown()

	group, ctx := errgroup.WithContext(ctx)

	if a.http != nil {
		group.Go(func() error {
			logger.Infof("app: http listening on %s", a.http.Addr())
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		return a.engine.Run(ctx)
	})

	return group.Wait()
}

func (a *App) shutdown() {
	if a.watchCancel != nil {
		a.watchCancel()
	}
	a.orders.Close()
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if err := a.decisions.Close(); err != nil {
		logger.Warnf("app: close decision log: %v", err)
	}
	if err := a.store.Close(); err != nil {
		logger.Warnf("app: close store: %v", err)
	}
	logger.Infof("app: shutdown complete")
}
