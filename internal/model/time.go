package model

import (
	"fmt"
	"time"
)

// UpdateDateLayout 是 metadata.update_date 使用的本地时间格式 (YYYY-MM-DDTHH:MM:SS)。
const UpdateDateLayout = "2006-01-02T15:04:05"

// LocalTime 以 UpdateDateLayout 序列化为 JSON。
type LocalTime time.Time

// MarshalJSON implements the json.Marshaler interface.
func (t LocalTime) MarshalJSON() ([]byte, error) {
	formatted := fmt.Sprintf("\"%s\"", time.Time(t).Format(UpdateDateLayout))
	return []byte(formatted), nil
}

// String 返回 UpdateDateLayout 格式的字符串。
func (t LocalTime) String() string {
	return time.Time(t).Format(UpdateDateLayout)
}

// ParseUpdateDate 解析 metadata.update_date，结果位于 loc 时区。
func ParseUpdateDate(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(UpdateDateLayout, s, loc)
}
