package events

import (
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("events",
	fx.Provide(
		NewProducer,
		NewService,
	),
	fx.Invoke(migrate),
)

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(&LicenseEvent{})
}
