package model

import (
	"gorm.io/gorm"
)

// AutoMigrate 迁移全部本地缓存表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Share{}, &ShareKey{}, &ItemKey{}, &Item{})
}
