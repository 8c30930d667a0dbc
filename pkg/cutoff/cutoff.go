package cutoff

import (
	"fmt"
	"time"
)

// ============================================================================
// 账期截止日计算
// ============================================================================
//
// 工资单每月 9 号截止：
//   - 1~9 号：本月账期
//   - 10 号及以后：下月账期（12 月滚到次年 1 月）
//
// 所有函数都是纯函数，当前时间由调用方传入，方便测试月份/年份边界。
// 日期一律归一到 UTC 每月 1 号，工资系统只关心月份粒度。
// ============================================================================

// Day 截止日（含当天）
const Day = 9

// Period 账期（月 + 年），不落库，每次查询时根据当前日期推算
type Period struct {
	Month time.Month `json:"month"`
	Year  int        `json:"year"`
}

// ReferencePeriod 根据当前日期计算账期
func ReferencePeriod(now time.Time) Period {
	year, month, day := now.Date()
	if day > Day {
		month++
		if month > time.December {
			month = time.January
			year++
		}
	}
	return Period{Month: month, Year: year}
}

// FirstDueDate 首期扣款日，与账期同一规则，固定为当月 1 号
func FirstDueDate(now time.Time) time.Time {
	return ReferencePeriod(now).Start()
}

// Schedule 从首期扣款日开始，按月生成 n 个扣款日
func Schedule(first time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	start := time.Date(first.Year(), first.Month(), 1, 0, 0, 0, 0, time.UTC)
	dates := make([]time.Time, n)
	for i := 0; i < n; i++ {
		// 始终从 1 号推进，AddDate 不会因为 29~31 号溢出
		dates[i] = start.AddDate(0, i, 0)
	}
	return dates
}

// Start 账期第一天（含）
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End 下一个账期第一天（不含），[Start, End) 为半开区间
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, 0)
}

func (p Period) String() string {
	return fmt.Sprintf("%02d/%d", int(p.Month), p.Year)
}
