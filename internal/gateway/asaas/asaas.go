// Package asaas implements the gateway client against the Asaas API.
package asaas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gatewaydomain "github.com/anuaedu/cobranca/internal/gateway/domain"
	"github.com/shopspring/decimal"
)

const requestTimeout = 15 * time.Second

type Factory struct {
	baseURL string
}

func NewFactory(baseURL string) *Factory {
	return &Factory{baseURL: strings.TrimRight(baseURL, "/")}
}

func (f *Factory) Provider() string {
	return "asaas"
}

func (f *Factory) NewClient(apiKey string) (gatewaydomain.Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, gatewaydomain.ErrInvalidConfig
	}
	return &Client{
		baseURL: f.baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}, nil
}

// Client is a tenant-scoped Asaas API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type asaasCustomer struct {
	ID                string `json:"id,omitempty"`
	Name              string `json:"name"`
	Email             string `json:"email,omitempty"`
	MobilePhone       string `json:"mobilePhone,omitempty"`
	CpfCnpj           string `json:"cpfCnpj"`
	ExternalReference string `json:"externalReference,omitempty"`
}

type asaasCustomerList struct {
	Data []asaasCustomer `json:"data"`
}

type asaasCharge struct {
	ID                string          `json:"id,omitempty"`
	Customer          string          `json:"customer"`
	BillingType       string          `json:"billingType"`
	Value             decimal.Decimal `json:"value"`
	DueDate           string          `json:"dueDate"`
	Description       string          `json:"description,omitempty"`
	ExternalReference string          `json:"externalReference,omitempty"`
	Status            string          `json:"status,omitempty"`
	InvoiceURL        string          `json:"invoiceUrl,omitempty"`
	BankSlipURL       string          `json:"bankSlipUrl,omitempty"`
}

func (c *Client) ResolveOrCreateCustomer(ctx context.Context, profile gatewaydomain.CustomerProfile) (string, error) {
	query := url.Values{}
	query.Set("cpfCnpj", profile.TaxID)

	var list asaasCustomerList
	if err := c.do(ctx, http.MethodGet, "/customers?"+query.Encode(), nil, &list); err != nil {
		return "", err
	}
	if len(list.Data) > 0 {
		return list.Data[0].ID, nil
	}

	payload := asaasCustomer{
		Name:              profile.Name,
		Email:             profile.Email,
		MobilePhone:       profile.Phone,
		CpfCnpj:           profile.TaxID,
		ExternalReference: profile.ExternalReference,
	}
	var created asaasCustomer
	if err := c.do(ctx, http.MethodPost, "/customers", payload, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (c *Client) CreateCharge(ctx context.Context, req gatewaydomain.ChargeRequest) (*gatewaydomain.Charge, error) {
	payload := asaasCharge{
		Customer:          req.CustomerID,
		BillingType:       req.BillingType,
		Value:             req.Value,
		DueDate:           req.DueDate.Format("2006-01-02"),
		Description:       req.Description,
		ExternalReference: req.ExternalReference,
	}
	var created asaasCharge
	if err := c.do(ctx, http.MethodPost, "/payments", payload, &created); err != nil {
		return nil, err
	}
	return chargeFromAPI(created), nil
}

func (c *Client) FetchCharge(ctx context.Context, chargeID string) (*gatewaydomain.Charge, error) {
	var charge asaasCharge
	err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(chargeID), nil, &charge)
	if err != nil {
		var reqErr *gatewaydomain.RequestError
		if errors.As(err, &reqErr) && reqErr.StatusCode == http.StatusNotFound {
			return nil, gatewaydomain.ErrChargeNotFound
		}
		return nil, err
	}
	return chargeFromAPI(charge), nil
}

func (c *Client) DeleteCharge(ctx context.Context, chargeID string) error {
	err := c.do(ctx, http.MethodDelete, "/payments/"+url.PathEscape(chargeID), nil, nil)
	if err != nil {
		var reqErr *gatewaydomain.RequestError
		if errors.As(err, &reqErr) && reqErr.StatusCode == http.StatusNotFound {
			return nil
		}
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal gateway request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("access_token", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &gatewaydomain.RequestError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}

func chargeFromAPI(raw asaasCharge) *gatewaydomain.Charge {
	return &gatewaydomain.Charge{
		ID:          raw.ID,
		Status:      raw.Status,
		Value:       raw.Value,
		Description: raw.Description,
		InvoiceURL:  raw.InvoiceURL,
		BankSlipURL: raw.BankSlipURL,
	}
}
