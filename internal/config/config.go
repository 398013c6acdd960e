package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env       string // 运行环境：dev 或 prod
	Addr      string // 服务绑定地址，例如 :3001
	JWTSecret string // JWT 签名密钥（登录身份令牌）
	JWTExpire time.Duration
	// Postgres 数据库配置
	PGUser string // 数据库用户名
	PGPass string // 数据库密码
	PGDB   string // 数据库名
	PGHost string // 数据库服务器地址
	PGPort string // 数据库服务器端口
	// MEMORY_STORE=1 时不连数据库，用内存表跑（开发/测试用）
	MemoryStore bool

	// 在线状态引擎的各种时间窗口
	// 这些是产品层面的阈值而不是工程常量，所以全部放配置
	Freshness    time.Duration // last_seen 新鲜窗口，超过视为离线/会话可被接管
	Debounce     time.Duration // 反抖动窗口：非中性状态保持期间拒绝降级到 Idle
	LockWait     time.Duration // 状态写入锁的最长等待
	SnapshotTTL  time.Duration // 实时大盘快照缓存时长
	WatchdogTick time.Duration // 看门狗巡检周期

	// 看门狗各状态档位的心跳超时
	ActiveGap time.Duration // 工作类状态（Working/Admin）降级为 Idle
	IdleGap   time.Duration // Idle 升级为 LoggedOut
	RestGap   time.Duration // 休息类状态（Break/Lunch）升级为 LoggedOut
	OtherGap  time.Duration // 其余状态（Meeting/Training/OOO 等）升级为 LoggedOut

	// KPI 口径：利用率封顶百分比，0 表示不封顶
	UtilisationCapPct int

	// 允许强制下线别人的管理员 identity 列表（ADMIN_IDS，逗号分隔）
	Admins []string
}

// IsAdmin 判断 identity 是否在管理员列表里
func (c *Config) IsAdmin(identity string) bool {
	for _, a := range c.Admins {
		if a == identity {
			return true
		}
	}
	return false
}

// Load 从 .env 文件和环境变量读取配置
// 优先级：环境变量 > .env 文件 > 默认值
func Load() (*Config, error) {
	_ = godotenv.Load()

	c := &Config{
		Env:         get("ENV", "dev"),    // 默认开发环境
		Addr:        get("ADDR", ":3001"), // 默认监听 3001 端口
		JWTSecret:   get("JWT_SECRET", "dev-guest-secret"),
		JWTExpire:   getMinutes("JWT_EXPIRE_MIN", 7*24*60),
		PGUser:      get("PGUSER", "app"),       // PostgreSQL 用户
		PGPass:      get("PGPASSWORD", "app"),   // PostgreSQL 密码
		PGDB:        get("PGDATABASE", "appdb"), // 数据库名
		PGHost:      get("PGHOST", "localhost"), // 数据库服务器地址
		PGPort:      get("PGPORT", "5432"),      // PostgreSQL 默认端口
		MemoryStore: get("MEMORY_STORE", "") == "1",

		Freshness:    getMinutes("SESSION_FRESHNESS_MIN", 5),
		Debounce:     getMinutes("PRESENCE_DEBOUNCE_MIN", 5),
		LockWait:     getSeconds("LOCK_WAIT_SEC", 3),
		SnapshotTTL:  getSeconds("SNAPSHOT_TTL_SEC", 45),
		WatchdogTick: getMinutes("WATCHDOG_TICK_MIN", 10),

		ActiveGap: getMinutes("WATCHDOG_ACTIVE_GAP_MIN", 10),
		IdleGap:   getMinutes("WATCHDOG_IDLE_GAP_MIN", 60),
		RestGap:   getMinutes("WATCHDOG_REST_GAP_MIN", 60),
		OtherGap:  getMinutes("WATCHDOG_OTHER_GAP_MIN", 10),

		UtilisationCapPct: getInt("KPI_UTILISATION_CAP_PCT", 100),

		Admins: splitCSV(get("ADMIN_IDS", "")),
	}
	return c, nil
}

// splitCSV 逗号分隔并去掉空白项
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) DSN() string {
	// GORM 的 PostgreSQL 驱动 DSN（数据源名称）格式
	// sslmode=disable 用于开发环境（生产环境应改为 require）
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=Asia/Shanghai",
		c.PGHost, c.PGUser, c.PGPass, c.PGDB, c.PGPort,
	)
}

// get 从环境变量获取值，如果为空则返回默认值
func get(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func getInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func getMinutes(k string, def int) time.Duration {
	return time.Duration(getInt(k, def)) * time.Minute
}

func getSeconds(k string, def int) time.Duration {
	return time.Duration(getInt(k, def)) * time.Second
}
