package model

import "time"

// KVEntry 通用键值表，点赞账本的 SQL 后端
type KVEntry struct {
	Key       string    `gorm:"primaryKey;type:varchar(255);comment:键" json:"key"`
	Value     []byte    `gorm:"type:bytea;not null;comment:JSON值" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime;comment:更新时间" json:"updated_at"`
}

func (KVEntry) TableName() string {
	return "kv_entries"
}
