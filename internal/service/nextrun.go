package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"finledger/internal/model"
)

// ValidateFrequency 校验周期配置
func ValidateFrequency(kind, value string) error {
	switch kind {
	case model.FrequencyWeekday:
		if _, err := parseBounded(value, 0, 6); err != nil {
			return err
		}
	case model.FrequencyDayOfMonth:
		if _, err := parseBounded(value, 1, 31); err != nil {
			return err
		}
	case model.FrequencyAnnualDate:
		if _, _, err := parseAnnualDate(value); err != nil {
			return err
		}
	default:
		return fmt.Errorf("未知周期类型 %q: %w", kind, model.ErrInvalidFrequency)
	}
	return nil
}

// FirstRunAt 新建定义时的首次执行日期，可以是当天
func FirstRunAt(kind, value string, today time.Time) (time.Time, error) {
	return NextRunAt(kind, value, dateOf(today).AddDate(0, 0, -1))
}

// NextRunAt 返回 after 所在日期之后（不含当天）的下一次执行日期，时间为 UTC 零点
//
//	WEEKDAY      下一个指定星期几，今天正好是则顺延 7 天
//	DAY_OF_MONTH 本月还没到就用本月，否则下月；日期超过月末取月末
//	ANNUAL_DATE  今年还没到就用今年，否则明年；02-29 在平年取 02-28
//
// ANNUAL_DATE 在扣款当天调用时同样取明年，不返回当天，避免同一天重复扣款；
// 需要 "当天或之后" 的语义时用 FirstRunAt
func NextRunAt(kind, value string, after time.Time) (time.Time, error) {
	today := dateOf(after)

	switch kind {
	case model.FrequencyWeekday:
		weekday, err := parseBounded(value, 0, 6)
		if err != nil {
			return time.Time{}, err
		}
		diff := (weekday - int(today.Weekday()) + 7) % 7
		if diff == 0 {
			diff = 7
		}
		return today.AddDate(0, 0, diff), nil

	case model.FrequencyDayOfMonth:
		day, err := parseBounded(value, 1, 31)
		if err != nil {
			return time.Time{}, err
		}
		if today.Day() < day {
			candidate := clampedDate(today.Year(), today.Month(), day)
			if candidate.After(today) {
				return candidate, nil
			}
		}
		nextMonth := time.Date(today.Year(), today.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		return clampedDate(nextMonth.Year(), nextMonth.Month(), day), nil

	case model.FrequencyAnnualDate:
		month, day, err := parseAnnualDate(value)
		if err != nil {
			return time.Time{}, err
		}
		candidate := clampedDate(today.Year(), month, day)
		if !candidate.After(today) {
			candidate = clampedDate(today.Year()+1, month, day)
		}
		return candidate, nil
	}

	return time.Time{}, fmt.Errorf("未知周期类型 %q: %w", kind, model.ErrInvalidFrequency)
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func clampedDate(year int, month time.Month, day int) time.Time {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func parseBounded(value string, min, max int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < min || n > max {
		return 0, fmt.Errorf("周期值 %q 超出范围 %d-%d: %w", value, min, max, model.ErrInvalidFrequency)
	}
	return n, nil
}

func parseAnnualDate(value string) (time.Month, int, error) {
	parts := strings.Split(strings.TrimSpace(value), "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("年度日期 %q 格式应为 MM-DD: %w", value, model.ErrInvalidFrequency)
	}
	month, err := parseBounded(parts[0], 1, 12)
	if err != nil {
		return 0, 0, err
	}
	// 用闰年校验日期是否存在，允许 02-29
	maxDay := time.Date(2024, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	day, err := parseBounded(parts[1], 1, maxDay)
	if err != nil {
		return 0, 0, err
	}
	return time.Month(month), day, nil
}
