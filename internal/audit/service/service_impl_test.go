package service

import (
	"context"
	"errors"
	"testing"

	auditdomain "github.com/anuaedu/cobranca/internal/audit/domain"
	billingdomain "github.com/anuaedu/cobranca/internal/billing/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, name string) (auditdomain.Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(9)
	require.NoError(t, err)

	return New(Params{DB: db, Log: zap.NewNop(), GenID: node}), db
}

func TestRecordWritesThroughCallerTransaction(t *testing.T) {
	svc, db := newTestService(t, "audit_tx")
	ctx := context.Background()
	actor := billingdomain.Actor{UserID: "user-1", UserName: "Secretary", Source: "test"}

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Record(ctx, tx, 1, actor, "invoice.created", "invoice", "42", map[string]any{
			"month": 3,
		})
	})
	require.NoError(t, err)

	var entry auditdomain.AuditLog
	require.NoError(t, db.First(&entry, "action = ?", "invoice.created").Error)
	assert.Equal(t, "user-1", entry.ActorID)
	assert.Equal(t, "42", entry.TargetID)
}

func TestRecordRollsBackWithCallerTransaction(t *testing.T) {
	svc, db := newTestService(t, "audit_rollback")
	ctx := context.Background()
	actor := billingdomain.SystemActor("sweep_test")

	// The entry must vanish with the failed transaction: a rolled-back
	// billing run leaves no audit trace.
	boom := errors.New("boom")
	err := db.Transaction(func(tx *gorm.DB) error {
		if recordErr := svc.Record(ctx, tx, 1, actor, "invoice.reconciled", "invoice", "42", nil); recordErr != nil {
			return recordErr
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Model(&auditdomain.AuditLog{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRecordFallsBackToOwnConnection(t *testing.T) {
	svc, db := newTestService(t, "audit_fallback")

	err := svc.Record(context.Background(), nil, 1, billingdomain.SystemActor("scheduler"), "invoice.charge_created", "invoice", "42", nil)
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&auditdomain.AuditLog{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
