package handlers

import (
	"context"
	"time"

	"github.com/ammario/tlru"
	"github.com/coder/quartz"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"

	"github.com/NCUHOME-Y/WorkBeat-BE/internal/engine"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/kpi"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/models"
	pkgerr "github.com/NCUHOME-Y/WorkBeat-BE/internal/pkg/err"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/pkg/logger"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/projection"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/session"
)

// Presence 在线状态相关的全部 HTTP 入口
type Presence struct {
	engine   *engine.Engine
	sessions *session.Manager
	proj     *projection.Store
	clock    quartz.Clock
	log      *logger.Logger

	// 大盘快照读多写少，挂个短 TTL 缓存，重建用 singleflight 去重
	snapTTL   time.Duration
	snapCache *tlru.Cache[string, snapshotResp]
	sf        singleflight.Group
}

func NewPresence(eng *engine.Engine, sessions *session.Manager, proj *projection.Store, clock quartz.Clock, snapTTL time.Duration, log *logger.Logger) *Presence {
	return &Presence{
		engine:    eng,
		sessions:  sessions,
		proj:      proj,
		clock:     clock,
		log:       log.Named("http"),
		snapTTL:   snapTTL,
		snapCache: tlru.New[string](tlru.ConstantCost[snapshotResp], 128),
	}
}

type setStateReq struct {
	SessionToken string `json:"session_token"`
	State        string `json:"state"`
	Note         string `json:"note"`
}

// SetState POST /api/v1/presence/state
func (h *Presence) SetState(c *gin.Context) {
	var req setStateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		pkgerr.Fail(c, pkgerr.Validation("bad request body"))
		return
	}
	identity := c.GetString("identity")
	ev, err := h.engine.SetState(c.Request.Context(), identity, req.SessionToken, req.State, req.Note)
	if err != nil {
		pkgerr.Fail(c, err)
		return
	}
	pkgerr.OK(c, gin.H{
		"state":     ev.State,
		"timestamp": ev.Timestamp.UTC(),
	})
}

type heartbeatReq struct {
	SessionToken string `json:"session_token"`
}

// Heartbeat POST /api/v1/presence/heartbeat
// 幂等；投影刷新和 KPI 重算失败都不影响心跳本身的成功返回
func (h *Presence) Heartbeat(c *gin.Context) {
	var req heartbeatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		pkgerr.Fail(c, pkgerr.Validation("bad request body"))
		return
	}
	identity, err := h.sessions.Heartbeat(c.Request.Context(), req.SessionToken)
	if err != nil {
		pkgerr.Fail(c, err)
		return
	}
	// 心跳路径只许动 last_seen/online
	if _, err := h.proj.Touch(c.Request.Context(), identity); err != nil {
		h.log.Error("projection touch failed", "identity", identity, "error", err)
	}
	h.engine.RefreshKPIs(c.Request.Context(), identity)
	pkgerr.OK(c, gin.H{"ok": true})
}

type logOffReq struct {
	SessionToken string `json:"session_token"`
	Note         string `json:"note"`
}

// LogOff POST /api/v1/presence/logoff
func (h *Presence) LogOff(c *gin.Context) {
	var req logOffReq
	if err := c.ShouldBindJSON(&req); err != nil {
		pkgerr.Fail(c, pkgerr.Validation("bad request body"))
		return
	}
	identity := c.GetString("identity")
	if _, err := h.engine.LogOff(c.Request.Context(), identity, req.SessionToken, req.Note); err != nil {
		pkgerr.Fail(c, err)
		return
	}
	pkgerr.OK(c, gin.H{"ok": true})
}

type forceLogoutReq struct {
	Identity string `json:"identity"`
	Reason   string `json:"reason"`
}

// ForceLogout POST /api/v1/presence/force-logout（仅管理员）
func (h *Presence) ForceLogout(c *gin.Context) {
	if !c.GetBool("is_admin") {
		pkgerr.Fail(c, pkgerr.Auth("admin only"))
		return
	}
	var req forceLogoutReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Identity == "" {
		pkgerr.Fail(c, pkgerr.Validation("bad identity"))
		return
	}
	actor := c.GetString("identity")
	if err := h.engine.ForceLogout(c.Request.Context(), req.Identity, req.Reason, actor); err != nil {
		pkgerr.Fail(c, err)
		return
	}
	pkgerr.OK(c, gin.H{"ok": true})
}

// Current GET /api/v1/presence/current?identity=
// 没有投影行会自动建默认行（离线 LoggedOut），不报 404
func (h *Presence) Current(c *gin.Context) {
	identity := c.Query("identity")
	if identity == "" {
		identity = c.GetString("identity")
	}
	row, err := h.proj.Get(c.Request.Context(), identity)
	if err != nil {
		pkgerr.Fail(c, err)
		return
	}
	pkgerr.OK(c, gin.H{
		"identity": row.Identity,
		"state":    row.CurrentState,
		"since":    row.Since.UTC(),
		"online":   row.Online,
	})
}

// Stints GET /api/v1/presence/stints?identity=&date=
// 按天重建区间 + KPI 快照
func (h *Presence) Stints(c *gin.Context) {
	identity := c.Query("identity")
	if identity == "" {
		identity = c.GetString("identity")
	}
	date := c.Query("date")
	if date == "" {
		date = h.clock.Now().Format(kpi.DateLayout)
	}
	snap, stints, err := h.engine.DayView(c.Request.Context(), identity, date)
	if err != nil {
		pkgerr.Fail(c, err)
		return
	}
	pkgerr.OK(c, gin.H{
		"identity": identity,
		"date":     date,
		"stints":   stints,
		"kpis":     snap,
	})
}

type snapshotResp struct {
	Date      string                  `json:"date"`
	Rows      []models.LiveProjection `json:"rows"`
	Aggregate aggregateKPIs           `json:"aggregate_kpis"`
}

type aggregateKPIs struct {
	OnlineCount       int `json:"online_count"`
	TotalLoggedInMin  int `json:"total_logged_in_minutes"`
	AvgEfficiencyPct  int `json:"avg_efficiency_pct"`
	AvgUtilisationPct int `json:"avg_utilisation_pct"`
}

// Snapshot GET /api/v1/presence/snapshot?date=
// 实时大盘：全员投影行 + 汇总 KPI，短 TTL 缓存（读侧允许几十秒的陈旧）
func (h *Presence) Snapshot(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		date = h.clock.Now().Format(kpi.DateLayout)
	}
	if v, _, ok := h.snapCache.Get(date); ok {
		pkgerr.OK(c, v)
		return
	}
	v, err, _ := h.sf.Do(date, func() (interface{}, error) {
		resp, err := h.buildSnapshot(c.Request.Context(), date)
		if err != nil {
			return nil, err
		}
		h.snapCache.Set(date, resp, h.snapTTL)
		return resp, nil
	})
	if err != nil {
		pkgerr.Fail(c, err)
		return
	}
	pkgerr.OK(c, v.(snapshotResp))
}

func (h *Presence) buildSnapshot(ctx context.Context, date string) (snapshotResp, error) {
	rows, err := h.proj.List(ctx)
	if err != nil {
		return snapshotResp{}, err
	}
	agg := aggregateKPIs{}
	withKPIs := 0
	for _, r := range rows {
		if r.Online {
			agg.OnlineCount++
		}
		agg.TotalLoggedInMin += r.LoggedInMin
		if r.LoggedInMin > 0 {
			agg.AvgEfficiencyPct += r.EfficiencyPct
			agg.AvgUtilisationPct += r.UtilisationPct
			withKPIs++
		}
	}
	if withKPIs > 0 {
		agg.AvgEfficiencyPct /= withKPIs
		agg.AvgUtilisationPct /= withKPIs
	}
	return snapshotResp{Date: date, Rows: rows, Aggregate: agg}, nil
}
