package task

import (
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("task.service",
	fx.Provide(
		NewService,
		NewScheduler,
	),
	fx.Invoke(
		migrate,
		StartScheduler,
	),
)

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Job{})
}
