package thread

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Formatter 将评论创建时间转为展示用字符串
type Formatter func(t time.Time) string

const defaultLayout = "Jan 2, 2006 3:04 PM"

// LayoutFormatter 按固定格式和时区输出
func LayoutFormatter(layout string, loc *time.Location) Formatter {
	if layout == "" {
		layout = defaultLayout
	}
	if loc == nil {
		loc = time.Local
	}
	return func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.In(loc).Format(layout)
	}
}

// RelativeFormatter 输出 "3 minutes ago" 这类相对时间
func RelativeFormatter() Formatter {
	return func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return humanize.Time(t)
	}
}

// NewFormatter 根据配置构造 Formatter，kind 为 layout 或 relative
func NewFormatter(kind, layout, zone string) (Formatter, error) {
	switch kind {
	case "relative":
		return RelativeFormatter(), nil
	case "", "layout":
		loc := time.Local
		if zone != "" && zone != "Local" {
			l, err := time.LoadLocation(zone)
			if err != nil {
				return nil, fmt.Errorf("invalid time zone %q: %w", zone, err)
			}
			loc = l
		}
		return LayoutFormatter(layout, loc), nil
	default:
		return nil, fmt.Errorf("unknown time format %q", kind)
	}
}
