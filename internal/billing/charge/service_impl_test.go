package charge

import (
	"context"
	"testing"
	"time"

	auditdomain "github.com/anuaedu/cobranca/internal/audit/domain"
	auditservice "github.com/anuaedu/cobranca/internal/audit/service"
	"github.com/anuaedu/cobranca/internal/billing/domain"
	"github.com/anuaedu/cobranca/internal/config"
	gatewaydomain "github.com/anuaedu/cobranca/internal/gateway/domain"
	"github.com/anuaedu/cobranca/internal/lock"
	schooldomain "github.com/anuaedu/cobranca/internal/school/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) ResolveOrCreateCustomer(ctx context.Context, profile gatewaydomain.CustomerProfile) (string, error) {
	args := m.Called(ctx, profile)
	return args.String(0), args.Error(1)
}

func (m *mockClient) CreateCharge(ctx context.Context, req gatewaydomain.ChargeRequest) (*gatewaydomain.Charge, error) {
	args := m.Called(ctx, req)
	charge, _ := args.Get(0).(*gatewaydomain.Charge)
	return charge, args.Error(1)
}

func (m *mockClient) FetchCharge(ctx context.Context, chargeID string) (*gatewaydomain.Charge, error) {
	args := m.Called(ctx, chargeID)
	charge, _ := args.Get(0).(*gatewaydomain.Charge)
	return charge, args.Error(1)
}

func (m *mockClient) DeleteCharge(ctx context.Context, chargeID string) error {
	args := m.Called(ctx, chargeID)
	return args.Error(0)
}

type staticProvider struct {
	client gatewaydomain.Client
}

func (p staticProvider) NewClient(provider, apiKey string) (gatewaydomain.Client, error) {
	return p.client, nil
}

type testEnv struct {
	db      *gorm.DB
	svc     domain.ChargeSyncer
	client  *mockClient
	genID   *snowflake.Node
	actor   domain.Actor
	school  *schooldomain.School
	student *schooldomain.Student
	payer   *schooldomain.ResponsibleProfile
}

func newTestEnv(t *testing.T, name string) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.Payment{},
		&domain.Invoice{},
		&domain.Contract{},
		&domain.EarlyDiscountTier{},
		&schooldomain.School{},
		&schooldomain.Student{},
		&schooldomain.ResponsibleProfile{},
		&schooldomain.Enrollment{},
		&auditdomain.AuditLog{},
	))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	log := zap.NewNop()
	client := &mockClient{}

	svc := New(Params{
		Config:   config.Config{Scheduler: config.SchedulerConfig{InvoiceLease: 2 * time.Second}},
		DB:       db,
		Log:      log,
		Locker:   lock.NewMemoryLocker(),
		Audit:    auditservice.New(auditservice.Params{DB: db, Log: log, GenID: node}),
		Gateways: staticProvider{client: client},
	})

	env := &testEnv{
		db:     db,
		svc:    svc,
		client: client,
		genID:  node,
		actor:  domain.Actor{UserID: "user-1", UserName: "Secretary", Source: "test"},
	}
	env.seedTenant(t)
	return env
}

func (e *testEnv) seedTenant(t *testing.T) {
	t.Helper()

	e.school = &schooldomain.School{
		ID:              e.genID.Generate(),
		Name:            "Escola Modelo",
		GatewayProvider: "asaas",
		GatewayStatus:   schooldomain.GatewayStatusActive,
		GatewayAPIKey:   "key",
	}
	require.NoError(t, e.db.Create(e.school).Error)

	e.payer = &schooldomain.ResponsibleProfile{
		UserID: e.genID.Generate(),
		Name:   "Maria Silva",
		Email:  "maria@example.com",
		TaxID:  "12345678901",
	}
	require.NoError(t, e.db.Create(e.payer).Error)

	e.student = &schooldomain.Student{
		ID:                e.genID.Generate(),
		SchoolID:          e.school.ID,
		Name:              "João Silva",
		ResponsibleUserID: e.payer.UserID,
	}
	require.NoError(t, e.db.Create(e.student).Error)
}

func (e *testEnv) newInvoice(t *testing.T, total int64, mutate func(*domain.Invoice)) *domain.Invoice {
	t.Helper()
	invoice := &domain.Invoice{
		ID:          e.genID.Generate(),
		SchoolID:    e.school.ID,
		StudentID:   e.student.ID,
		Month:       3,
		Year:        2026,
		DueDate:     time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Status:      domain.InvoiceStatusOpen,
		BaseAmount:  total,
		TotalAmount: total,
	}
	if mutate != nil {
		mutate(invoice)
	}
	require.NoError(t, e.db.Create(invoice).Error)

	payment := &domain.Payment{
		ID:        e.genID.Generate(),
		SchoolID:  e.school.ID,
		StudentID: e.student.ID,
		Type:      domain.PaymentTypeTuition,
		Status:    domain.PaymentStatusNotPaid,
		Amount:    total,
		Month:     invoice.Month,
		Year:      invoice.Year,
		DueDate:   invoice.DueDate,
		InvoiceID: &invoice.ID,
	}
	require.NoError(t, e.db.Create(payment).Error)
	return invoice
}

func (e *testEnv) reload(t *testing.T, id snowflake.ID) *domain.Invoice {
	t.Helper()
	var invoice domain.Invoice
	require.NoError(t, e.db.First(&invoice, "id = ?", id).Error)
	return &invoice
}

func TestSyncInvoiceCreatesCharge(t *testing.T) {
	env := newTestEnv(t, "charge_create")
	invoice := env.newInvoice(t, 50000, nil)

	env.client.On("ResolveOrCreateCustomer", mock.Anything, mock.MatchedBy(func(p gatewaydomain.CustomerProfile) bool {
		return p.TaxID == "12345678901" && p.Name == "Maria Silva"
	})).Return("cus_1", nil)
	env.client.On("CreateCharge", mock.Anything, mock.MatchedBy(func(req gatewaydomain.ChargeRequest) bool {
		return req.CustomerID == "cus_1" &&
			req.BillingType == "BOLETO" &&
			req.Value.Equal(decimal.RequireFromString("500")) &&
			req.Description == "Escola Modelo - Fatura 03/2026\nMensalidade - R$ 500.00" &&
			req.ExternalReference == invoice.ID.String()
	})).Return(&gatewaydomain.Charge{
		ID:          "pay_1",
		Status:      "PENDING",
		Value:       decimal.RequireFromString("500"),
		BankSlipURL: "https://asaas.example/boleto/pay_1",
		InvoiceURL:  "https://asaas.example/i/pay_1",
	}, nil)

	require.NoError(t, env.svc.SyncInvoice(context.Background(), env.actor, invoice.ID))

	reloaded := env.reload(t, invoice.ID)
	assert.Equal(t, "pay_1", reloaded.PaymentGatewayID)
	assert.Equal(t, "asaas", reloaded.PaymentGateway)
	assert.Equal(t, "BOLETO", reloaded.PaymentMethod)
	assert.Equal(t, "https://asaas.example/boleto/pay_1", reloaded.InvoiceURL)
	assert.Equal(t, domain.InvoiceStatusPending, reloaded.Status)

	var payer schooldomain.ResponsibleProfile
	require.NoError(t, env.db.First(&payer, "user_id = ?", env.payer.UserID).Error)
	assert.Equal(t, "cus_1", payer.GatewayCustomerID)

	env.client.AssertExpectations(t)
}

func TestSyncInvoiceRefreshesMatchingCharge(t *testing.T) {
	env := newTestEnv(t, "charge_refresh")
	invoice := env.newInvoice(t, 50000, func(i *domain.Invoice) {
		i.PaymentGateway = "asaas"
		i.PaymentGatewayID = "pay_1"
		i.PaymentMethod = "BOLETO"
		i.Status = domain.InvoiceStatusPending
	})
	env.payer.GatewayCustomerID = "cus_1"
	require.NoError(t, env.db.Save(env.payer).Error)

	// Same value, same description modulo whitespace: the remote charge
	// must be left alone.
	env.client.On("FetchCharge", mock.Anything, "pay_1").Return(&gatewaydomain.Charge{
		ID:          "pay_1",
		Status:      "PENDING",
		Value:       decimal.RequireFromString("500.00"),
		Description: "Escola Modelo - Fatura  03/2026\nMensalidade -  R$ 500.00",
		BankSlipURL: "https://asaas.example/boleto/pay_1-v2",
	}, nil)

	require.NoError(t, env.svc.SyncInvoice(context.Background(), env.actor, invoice.ID))

	reloaded := env.reload(t, invoice.ID)
	assert.Equal(t, "pay_1", reloaded.PaymentGatewayID)
	assert.Equal(t, "https://asaas.example/boleto/pay_1-v2", reloaded.InvoiceURL)

	env.client.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
	env.client.AssertNotCalled(t, "DeleteCharge", mock.Anything, mock.Anything)
	env.client.AssertExpectations(t)
}

func TestSyncInvoiceRecreatesChangedCharge(t *testing.T) {
	env := newTestEnv(t, "charge_recreate")
	invoice := env.newInvoice(t, 45000, func(i *domain.Invoice) {
		i.PaymentGateway = "asaas"
		i.PaymentGatewayID = "pay_1"
		i.PaymentMethod = "BOLETO"
		i.Status = domain.InvoiceStatusPending
	})
	env.payer.GatewayCustomerID = "cus_1"
	require.NoError(t, env.db.Save(env.payer).Error)

	env.client.On("FetchCharge", mock.Anything, "pay_1").Return(&gatewaydomain.Charge{
		ID:          "pay_1",
		Value:       decimal.RequireFromString("500.00"),
		Description: "Escola Modelo - Fatura 03/2026\nMensalidade - R$ 500.00",
	}, nil)
	env.client.On("DeleteCharge", mock.Anything, "pay_1").Return(nil)
	env.client.On("CreateCharge", mock.Anything, mock.MatchedBy(func(req gatewaydomain.ChargeRequest) bool {
		return req.Value.Equal(decimal.RequireFromString("450"))
	})).Return(&gatewaydomain.Charge{
		ID:         "pay_2",
		Value:      decimal.RequireFromString("450"),
		InvoiceURL: "https://asaas.example/i/pay_2",
	}, nil)

	require.NoError(t, env.svc.SyncInvoice(context.Background(), env.actor, invoice.ID))

	reloaded := env.reload(t, invoice.ID)
	assert.Equal(t, "pay_2", reloaded.PaymentGatewayID)
	env.client.AssertExpectations(t)
}

func TestSyncInvoiceRequiresActiveGateway(t *testing.T) {
	env := newTestEnv(t, "charge_inactive")
	invoice := env.newInvoice(t, 50000, nil)
	require.NoError(t, env.db.Model(env.school).
		Update("gateway_status", schooldomain.GatewayStatusPending).Error)

	err := env.svc.SyncInvoice(context.Background(), env.actor, invoice.ID)
	assert.ErrorIs(t, err, domain.ErrGatewayInactive)
	env.client.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
}

func TestSyncInvoiceRequiresPayerTaxID(t *testing.T) {
	env := newTestEnv(t, "charge_taxid")
	invoice := env.newInvoice(t, 50000, nil)
	require.NoError(t, env.db.Model(env.payer).Update("tax_id", "").Error)

	err := env.svc.SyncInvoice(context.Background(), env.actor, invoice.ID)
	assert.ErrorIs(t, err, domain.ErrMissingTaxID)
	env.client.AssertNotCalled(t, "CreateCharge", mock.Anything, mock.Anything)
}

func TestSyncInvoiceRejectsTerminalInvoice(t *testing.T) {
	env := newTestEnv(t, "charge_terminal")
	invoice := env.newInvoice(t, 50000, func(i *domain.Invoice) {
		i.Status = domain.InvoiceStatusPaid
	})

	err := env.svc.SyncInvoice(context.Background(), env.actor, invoice.ID)
	assert.ErrorIs(t, err, domain.ErrInvoiceNotDue)
}

func TestResolveBillingTypeMajorityVote(t *testing.T) {
	env := newTestEnv(t, "charge_vote")
	invoice := env.newInvoice(t, 50000, nil)
	env.payer.GatewayCustomerID = "cus_1"
	require.NoError(t, env.db.Save(env.payer).Error)

	for _, method := range []schooldomain.PaymentMethod{
		schooldomain.PaymentMethodPix,
		schooldomain.PaymentMethodPix,
		schooldomain.PaymentMethodBoleto,
	} {
		require.NoError(t, env.db.Create(&schooldomain.Enrollment{
			ID:            env.genID.Generate(),
			SchoolID:      env.school.ID,
			StudentID:     env.student.ID,
			PaymentMethod: method,
			Status:        "ACTIVE",
		}).Error)
	}

	env.client.On("CreateCharge", mock.Anything, mock.MatchedBy(func(req gatewaydomain.ChargeRequest) bool {
		return req.BillingType == "PIX"
	})).Return(&gatewaydomain.Charge{
		ID:         "pay_1",
		InvoiceURL: "https://asaas.example/i/pay_1",
	}, nil)

	require.NoError(t, env.svc.SyncInvoice(context.Background(), env.actor, invoice.ID))
	assert.Equal(t, "PIX", env.reload(t, invoice.ID).PaymentMethod)
	env.client.AssertExpectations(t)
}

func TestSyncChargesSweepCounts(t *testing.T) {
	env := newTestEnv(t, "charge_sweep")
	billable := env.newInvoice(t, 50000, nil)
	env.newInvoice(t, 0, func(i *domain.Invoice) {
		i.BaseAmount = 0
		i.TotalAmount = 0
	})
	env.payer.GatewayCustomerID = "cus_1"
	require.NoError(t, env.db.Save(env.payer).Error)

	env.client.On("CreateCharge", mock.Anything, mock.Anything).Return(&gatewaydomain.Charge{
		ID:         "pay_1",
		InvoiceURL: "https://asaas.example/i/pay_1",
	}, nil)

	summary, err := env.svc.SyncCharges(context.Background(), domain.SystemActor("sweep_test"), domain.Period{Month: 3, Year: 2026}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.ChargesCreated)
	assert.Zero(t, summary.Errors)
	assert.Equal(t, "pay_1", env.reload(t, billable.ID).PaymentGatewayID)
}
