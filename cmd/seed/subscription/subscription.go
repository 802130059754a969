package main

import (
	"context"
	"log"
	"time"

	"license-controlplane/pkg/config"
	"license-controlplane/pkg/db"
	"license-controlplane/pkg/logger"
	"license-controlplane/services/subscriptions"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		subscriptions.Module,
		fx.Invoke(seed),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

// seed provisions a development agreement with one active capped plan.
func seed(lc fx.Lifecycle, gdb *gorm.DB, svc *subscriptions.Service, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			agreement, err := svc.CreateAgreement(ctx, subscriptions.CreateAgreementInput{
				EnterpriseCustomerUUID: uuid.NewString(),
				EnterpriseCustomerName: "Pied Piper",
				DefaultCatalogUUID:     uuid.NewString(),
			})
			if err != nil {
				return err
			}

			if err := gdb.WithContext(ctx).Model(agreement).Updates(map[string]interface{}{
				"enable_auto_scaling":               true,
				"auto_scaling_max_licenses":         500,
				"auto_scaling_threshold_percentage": 80,
				"auto_scaling_increment_percentage": 20,
			}).Error; err != nil {
				return err
			}

			now := time.Now().UTC()
			plan, err := svc.CreatePlan(ctx, subscriptions.CreatePlanInput{
				AgreementID:            agreement.ID,
				Title:                  "Pied Piper - Annual",
				StartDate:              now.AddDate(0, 0, -1),
				ExpirationDate:         now.AddDate(1, 0, 0),
				DesiredNumLicenses:     50,
				IsActive:               true,
				IsRevocationCapEnabled: true,
				RevokeMaxPercentage:    10,
			})
			if err != nil {
				return err
			}

			zap.L().Info("seeded development data",
				zap.String("agreement_id", agreement.ID),
				zap.String("plan_id", plan.ID))

			return shutdowner.Shutdown()
		},
	})
}
