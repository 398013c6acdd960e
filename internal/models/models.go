package models

import (
	"time"
)

// 状态枚举（固定集合，不支持动态扩展）
const (
	StateWorking     = "Working"
	StateIdle        = "Idle"
	StateMeeting     = "Meeting"
	StateTraining    = "Training"
	StateBreak       = "Break"
	StateLunch       = "Lunch"
	StateAdmin       = "Admin"
	StateOutOfOffice = "OutOfOffice"
	StateLoggedOut   = "LoggedOut"
)

// 状态事件来源
const (
	SourceClient   = "client"
	SourceWatchdog = "watchdog"
	SourceAdmin    = "admin"
)

var allStates = map[string]bool{
	StateWorking:     true,
	StateIdle:        true,
	StateMeeting:     true,
	StateTraining:    true,
	StateBreak:       true,
	StateLunch:       true,
	StateAdmin:       true,
	StateOutOfOffice: true,
	StateLoggedOut:   true,
}

// ValidState 校验是否在枚举内
func ValidState(s string) bool { return allStates[s] }

// IsActiveWork 工作类状态（看门狗 10 分钟无心跳先降级为 Idle）
func IsActiveWork(s string) bool { return s == StateWorking || s == StateAdmin }

// IsRest 休息类状态（Break/Lunch，60 分钟无心跳才登出）
func IsRest(s string) bool { return s == StateBreak || s == StateLunch }

// ExcludedFromLoggedIn 不计入在线时长的状态
func ExcludedFromLoggedIn(s string) bool {
	return s == StateLoggedOut || s == StateOutOfOffice
}

// 一条状态变更事件（只追加，不改写）
// DurationMin 在下一条事件写入时回填，回填即"收口"上一段
// 不变量：同一 identity 同一天最多只有一条未收口的事件（最新那条）
type StateEvent struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Identity  string    `json:"identity" gorm:"index:idx_identity_date"`
	Date      string    `json:"date" gorm:"index:idx_identity_date"` // 2006-01-02
	Timestamp time.Time `json:"timestamp"`
	State     string    `json:"state"`
	Source    string    `json:"source"` // client、watchdog、admin
	Note      string    `json:"note"`
	// 收口时写入，之后不再变动（整天回填除外）
	DurationMin *int      `json:"duration_minutes"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// 每人一行的实时投影
// 不变量：Online == (CurrentState != LoggedOut) && (now - LastSeen) <= 新鲜窗口
type LiveProjection struct {
	Identity     string    `json:"identity" gorm:"primaryKey"`
	CurrentState string    `json:"current_state"`
	Since        time.Time `json:"since"`
	LastSeen     time.Time `json:"last_seen"`
	Online       bool      `json:"online"`
	SessionToken string    `json:"-"`

	// KPI 展示字段，由重算流程覆盖写入
	LoggedInMin    int     `json:"logged_in_minutes"`
	EfficiencyPct  int     `json:"efficiency_pct"`
	UtilisationPct int     `json:"utilisation_pct"`
	ThroughputHr   float64 `json:"throughput_per_hour"`

	Note      string    `json:"note"`
	UpdatedAt time.Time `json:"updated_at"`
}

// 一条会话记录：每个 identity 同一时刻只有一个权威 token
type WorkSession struct {
	Identity        string    `json:"identity" gorm:"primaryKey"`
	Token           string    `json:"-" gorm:"index"`
	IssuedAt        time.Time `json:"issued_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
}
