package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/NCUHOME-Y/WorkBeat-BE/internal/config"
	"github.com/NCUHOME-Y/WorkBeat-BE/internal/models"
	pkgerr "github.com/NCUHOME-Y/WorkBeat-BE/internal/pkg/err"
	utils "github.com/NCUHOME-Y/WorkBeat-BE/pkg/mypubliclib/util"
)

type loginReq struct {
	Identity string `json:"identity"`
}

// Login POST /api/v1/auth/login
// 签发身份 JWT + 在线会话 token，并把人置为 Working
// identity 不传就按游客处理（uuid 前缀当展示名）
func (h *Presence) Login(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginReq
		_ = c.ShouldBindJSON(&req)
		identity := strings.TrimSpace(req.Identity)
		if identity == "" {
			vid := uuid.NewString()
			short := vid
			if i := strings.IndexByte(vid, '-'); i > 0 {
				short = vid[:i]
			}
			identity = "guest-" + short
		}

		isAdmin := cfg.IsAdmin(identity)
		jwtToken, err := utils.GenerateToken(cfg.JWTSecret, cfg.JWTExpire, identity, isAdmin)
		if err != nil {
			pkgerr.Fail(c, err)
			return
		}
		sessToken, err := h.sessions.Issue(c.Request.Context(), identity)
		if err != nil {
			pkgerr.Fail(c, err)
			return
		}
		// 登录即进入 Working（后续由客户端上报流转）
		ev, err := h.engine.SetState(c.Request.Context(), identity, sessToken, models.StateWorking, "login")
		if err != nil {
			pkgerr.Fail(c, err)
			return
		}
		pkgerr.OK(c, gin.H{
			"identity":      identity,
			"token":         jwtToken,
			"session_token": sessToken,
			"state":         ev.State,
			"timestamp":     ev.Timestamp.UTC(),
		})
	}
}
