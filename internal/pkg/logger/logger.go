package logger

import (
	"fmt"
	"log"
	"os"
)

// 一个非常小的日志包装，提供项目中使用的方法
// 后台任务（心跳 KPI 重算、看门狗巡检）的错误只经过这里，不往外抛
type Logger struct {
	std    *log.Logger
	prefix string
}

// Init 创建一个简单的日志器，env 参数保留以兼容
func Init(env string) *Logger {
	l := log.New(os.Stdout, "", log.LstdFlags|log.Lmsgprefix)
	return &Logger{std: l}
}

// Named 派生带组件名前缀的日志器（engine/watchdog/session 各用各的）
func (l *Logger) Named(name string) *Logger {
	p := l.prefix
	if p != "" {
		p += "."
	}
	return &Logger{std: l.std, prefix: p + name}
}

func (l *Logger) printf(level, msg string, kvs []interface{}) {
	if l.prefix != "" {
		msg = fmt.Sprintf("[%s] %s", l.prefix, msg)
	}
	l.std.Printf("%s: %s %v", level, msg, kvs)
}

func (l *Logger) Info(msg string, kvs ...interface{}) {
	l.printf("INFO", msg, kvs)
}

func (l *Logger) Debug(msg string, kvs ...interface{}) {
	l.printf("DEBUG", msg, kvs)
}

func (l *Logger) Error(msg string, kvs ...interface{}) {
	l.printf("ERROR", msg, kvs)
}

func (l *Logger) Fatal(msg string, kvs ...interface{}) {
	l.printf("FATAL", msg, kvs)
	os.Exit(1)
}

func (l *Logger) Sync() error { return nil }
