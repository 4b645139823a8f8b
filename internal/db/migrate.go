package db

import (
	"github.com/suPer8Hu/specforge/internal/project"
	"gorm.io/gorm"
)

func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&project.Project{}, &project.Run{})
}
