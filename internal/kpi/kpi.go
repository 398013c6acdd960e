package kpi

import (
	"math"
	"sort"
	"time"

	"github.com/NCUHOME-Y/WorkBeat-BE/internal/models"
)

// 纯计算：从事件日志重建时间段，再算 KPI
// 这里不碰存储也不碰网络，方便直接测

// Stint 一段连续的同状态区间，只在内存里派生，从不落库
type Stint struct {
	State string    `json:"state"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Minutes 区间分钟数（四舍五入）
func (s Stint) Minutes() int {
	return int(math.Round(s.End.Sub(s.Start).Minutes()))
}

const DateLayout = "2006-01-02"

// DayBounds 返回 date 当天的 [00:00, 次日00:00)
func DayBounds(date string, loc *time.Location) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.AddDate(0, 0, 1), nil
}

// BuildStints 把一天的事件配对成区间
// 每条事件的结束点 = 下一条事件的开始点；最后一条未收口的事件：
// 当天就用 now 收，过去的天用当天结束收。所有区间裁剪进天边界，
// 零长或负长（乱序残留）的区间直接丢弃
func BuildStints(events []models.StateEvent, dayStart, dayEnd, now time.Time) []Stint {
	if len(events) == 0 {
		return nil
	}
	evs := make([]models.StateEvent, len(events))
	copy(evs, events)
	sort.Slice(evs, func(i, j int) bool { return evs[i].Timestamp.Before(evs[j].Timestamp) })

	out := make([]Stint, 0, len(evs))
	for i, ev := range evs {
		start := ev.Timestamp
		var end time.Time
		if i+1 < len(evs) {
			end = evs[i+1].Timestamp
		} else {
			// 最后一段：当天 clamp 到 now，历史日 clamp 到当天结束
			if now.After(dayStart) && now.Before(dayEnd) {
				end = now
			} else {
				end = dayEnd
			}
		}
		// 裁剪进天边界
		if start.Before(dayStart) {
			start = dayStart
		}
		if end.After(dayEnd) {
			end = dayEnd
		}
		if !end.After(start) {
			continue
		}
		out = append(out, Stint{State: ev.State, Start: start, End: end})
	}
	return out
}

// LoggedInMinutes 在线分钟数：排除 LoggedOut/OutOfOffice 后各段分钟之和
func LoggedInMinutes(stints []Stint) int {
	sum := 0
	for _, s := range stints {
		if models.ExcludedFromLoggedIn(s.State) {
			continue
		}
		sum += s.Minutes()
	}
	return sum
}

// Policy KPI 口径（见 DESIGN.md 的口径决定）
type Policy struct {
	// 利用率封顶百分比，0 表示不封顶
	UtilisationCapPct int
}

// Snapshot 每次从当前输入现算，自身不是数据源
type Snapshot struct {
	AvailableMin   int     `json:"available_minutes"`
	HandlingMin    int     `json:"handling_minutes"`
	StandardMin    int     `json:"standard_minutes"`
	OutputCount    int     `json:"output_count"`
	EfficiencyPct  int     `json:"efficiency_pct"`
	UtilisationPct int     `json:"utilisation_pct"`
	ThroughputHr   float64 `json:"throughput_per_hour"`
}

// Compute KPI 三件套
// 统一口径：效率 = 标准工时 / 实际处理工时（>100% 表示快于标准）
// 所有除法遇 0 分母返回 0，所有输出不为负
func Compute(handlingMin, standardMin, availableMin, outputCount int, pol Policy) Snapshot {
	snap := Snapshot{
		AvailableMin: clampMin(availableMin, 0),
		HandlingMin:  clampMin(handlingMin, 0),
		StandardMin:  clampMin(standardMin, 0),
		OutputCount:  clampMin(outputCount, 0),
	}

	if snap.HandlingMin > 0 {
		snap.EfficiencyPct = int(math.Round(100 * float64(snap.StandardMin) / float64(snap.HandlingMin)))
	}
	if snap.AvailableMin > 0 {
		u := int(math.Round(100 * float64(snap.HandlingMin) / float64(snap.AvailableMin)))
		if pol.UtilisationCapPct > 0 && u > pol.UtilisationCapPct {
			u = pol.UtilisationCapPct
		}
		snap.UtilisationPct = u
	}
	if snap.AvailableMin > 0 {
		t := float64(snap.OutputCount) / (float64(snap.AvailableMin) / 60)
		snap.ThroughputHr = math.Round(t*100) / 100
	}
	return snap
}

// AvailableMinutes 可用分钟 = 在线分钟 - 已接受会议分钟，下限 0
func AvailableMinutes(loggedInMin, meetingMin int) int {
	return clampMin(loggedInMin-meetingMin, 0)
}

func clampMin(v, floor int) int {
	if v < floor {
		return floor
	}
	return v
}
