package notifications

import (
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("notifications",
	fx.Provide(
		NewNotifier,
		NewService,
	),
	fx.Invoke(migrate),
)

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Notification{})
}
