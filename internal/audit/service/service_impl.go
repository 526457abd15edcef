package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/anuaedu/cobranca/internal/audit/domain"
	billingdomain "github.com/anuaedu/cobranca/internal/billing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func New(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
	}
}

// Record writes one audit entry through tx. Callers inside a database
// transaction must pass it; writing on a separate connection would leak
// entries for rolled-back work.
func (s *Service) Record(ctx context.Context, tx *gorm.DB, schoolID snowflake.ID, actor billingdomain.Actor, action, targetType, targetID string, metadata map[string]any) error {
	if tx == nil {
		tx = s.db
	}
	entry := auditdomain.AuditLog{
		ID:          s.genID.Generate(),
		SchoolID:    schoolID,
		ActorID:     actor.UserID,
		ActorName:   actor.UserName,
		ActorSource: actor.Source,
		Action:      action,
		TargetType:  targetType,
		TargetID:    targetID,
		Metadata:    datatypes.JSONMap(metadata),
		CreatedAt:   time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(&entry).Error; err != nil {
		s.log.Warn("failed to record audit entry",
			zap.String("action", action),
			zap.String("target_id", targetID),
			zap.Error(err),
		)
		return err
	}
	return nil
}
