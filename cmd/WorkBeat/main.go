package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/gin-gonic/gin"

	"github.com/NCUHOME-Y/WorkBeat-BE/internal/collab"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/config"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/database"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/engine"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/handlers"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/kpi"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/pkg/logger"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/pkg/middleware"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/projection"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/session"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/store"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/watchdog"
	utils "github.com/NCUHOME-Y/WorkBeat-BE/pkg/mypubliclib/util"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.Init(cfg.Env)
	defer func() { _ = log.Sync() }()

	gin.SetMode(gin.ReleaseMode)

	// 存储：默认 Postgres（AutoMigrate 建表建索引），MEMORY_STORE=1 走内存表
	var tables store.Tables
	if cfg.MemoryStore {
		log.Info("using in-memory store")
		tables = store.NewMemory()
	} else {
		gormDB, err := database.InitGorm(cfg)
		if err != nil {
			log.Fatal("db init error", "error", err)
		}
		tables = store.NewGorm(gormDB)
	}

	clock := quartz.NewReal()

	// 外部协作方目前都没接，挂安全空实现
	var (
		meetings collab.MeetingSource = collab.NoopMeetings{}
		work     collab.WorkSource    = collab.NoopWork{}
		audit    collab.AuditSink     = collab.NoopAudit{}
	)

	proj := projection.New(tables.Projections, clock, cfg.Debounce, cfg.Freshness, log)
	sessions := session.New(tables.Sessions, proj, clock, cfg.Freshness, audit, log)
	eng := engine.New(tables.Events, proj, sessions, engine.Options{
		Clock:    clock,
		LockWait: cfg.LockWait,
		Policy:   kpi.Policy{UtilisationCapPct: cfg.UtilisationCapPct},
		Meetings: meetings,
		Work:     work,
		Audit:    audit,
	}, log)

	h := handlers.NewPresence(eng, sessions, proj, clock, cfg.SnapshotTTL, log)

	// 创建 Gin 路由器，使用内置的恢复和自定义中间件
	r := gin.New()
	r.Use(gin.Recovery())         // 捕获 panic 并返回 500
	r.Use(utils.Cors())           // CORS 跨域支持
	r.Use(middleware.RequestID()) // 请求 ID

	// 健康检查端点（用于负载均衡器和监控探测）
	r.GET("/api/v1/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "ts": time.Now().Unix()})
	})

	r.POST("/api/v1/auth/login", h.Login(cfg))

	// 在线状态相关路由（需要登录身份；限流挂在鉴权后，按人计数）
	p := r.Group("/api/v1/presence", middleware.JWTAuth(cfg.JWTSecret), middleware.RateLimit())
	p.POST("/state", h.SetState)              // 状态上报
	p.POST("/heartbeat", h.Heartbeat)         // 心跳续命
	p.POST("/logoff", h.LogOff)               // 主动登出
	p.POST("/force-logout", h.ForceLogout)    // 管理员强制下线
	p.GET("/current", h.Current)              // 当前状态
	p.GET("/stints", h.Stints)                // 按天区间重建 + KPI
	p.GET("/snapshot", h.Snapshot)            // 实时大盘（带缓存）

	// 看门狗独立跑，和请求路径共用引擎入口
	wdCtx, wdCancel := context.WithCancel(context.Background())
	wd := watchdog.New(eng, sessions, proj, clock, cfg.WatchdogTick, watchdog.Gaps{
		Active: cfg.ActiveGap,
		Idle:   cfg.IdleGap,
		Rest:   cfg.RestGap,
		Other:  cfg.OtherGap,
	}, log)
	go wd.Run(wdCtx)

	srv := &http.Server{Addr: cfg.Addr, Handler: r}
	go func() {
		log.Info("listen on", "addr", cfg.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", "error", err)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")
	wdCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	log.Info("server stopped")
}
