package subscriptions

import (
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("subscriptions",
	fx.Provide(
		NewOutbox,
		NewService,
	),
	fx.Invoke(migrate),
)

func migrate(db *gorm.DB) error {
	return Migrate(db)
}
