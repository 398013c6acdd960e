package collab

import (
	"context"
	"time"
)

// 外部协作方的能力接口
// 原则：不做运行时探测，没接上就显式给一个安全空实现

// MeetingSource 会议数据方：某人某天已接受的会议分钟数
type MeetingSource interface {
	MeetingMinutes(ctx context.Context, identity, date string) (int, error)
}

// WorkDay 某人某天的工单口径数据
type WorkDay struct {
	HandlingMin int // 实际处理分钟
	StandardMin int // 标准工时分钟
	OutputCount int // 完成件数
}

// WorkSource 工单日志方
type WorkSource interface {
	WorkDay(ctx context.Context, identity, date string) (WorkDay, error)
}

// AuditSink 审计事件落点（登录/登出/强制升级）
type AuditSink interface {
	Record(ctx context.Context, kind, identity, actor, detail string, at time.Time)
}

// NoopMeetings 没接会议源时的空实现，返回 0 分钟
type NoopMeetings struct{}

func (NoopMeetings) MeetingMinutes(ctx context.Context, identity, date string) (int, error) {
	return 0, nil
}

// NoopWork 没接工单源时的空实现，返回全 0
type NoopWork struct{}

func (NoopWork) WorkDay(ctx context.Context, identity, date string) (WorkDay, error) {
	return WorkDay{}, nil
}

// NoopAudit 没接审计落点时的空实现
type NoopAudit struct{}

func (NoopAudit) Record(ctx context.Context, kind, identity, actor, detail string, at time.Time) {}
