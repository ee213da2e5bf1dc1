package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"checkout-core/internal/config"
	"checkout-core/internal/domain"

	"github.com/shopspring/decimal"
)

type PaymentGateway interface {
	CreatePaymentLink(ctx context.Context, req LinkRequest) (*Link, error)
}

type LinkRequest struct {
	ProductCode   string
	Amount        decimal.Decimal
	Description   string
	MerchantToken string
	BuyerName     string
	BuyerEmail    string
	BuyerPhone    string
}

type Link struct {
	PaymentURL  string
	ProductCode string
	Reference   string
}

// HTTPGateway talks to the hosted payment page provider.
type HTTPGateway struct {
	cfg    config.Gateway
	client *http.Client
}

func NewHTTPGateway(cfg config.Gateway) *HTTPGateway {
	return &HTTPGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type linkRequestBody struct {
	ProductCode   string `json:"product_code"`
	Amount        string `json:"amount"`
	Description   string `json:"description"`
	MerchantToken string `json:"merchant_token"`
	BuyerName     string `json:"buyer_name,omitempty"`
	BuyerEmail    string `json:"buyer_email,omitempty"`
	BuyerPhone    string `json:"buyer_phone,omitempty"`
	ReturnURL     string `json:"return_url"`
	CancelURL     string `json:"cancel_url"`
	CallbackURL   string `json:"callback_url"`
	Signature     string `json:"signature"`
}

type linkResponseBody struct {
	Code string `json:"code"`
	Desc string `json:"desc"`
	Data struct {
		CheckoutURL string `json:"checkout_url"`
		ProductCode string `json:"product_code"`
		Reference   string `json:"reference"`
	} `json:"data"`
}

// CreatePaymentLink asks the gateway for a hosted payment page. Any transport
// failure, including a timeout, is reported as domain.ErrGatewayUnavailable.
func (g *HTTPGateway) CreatePaymentLink(ctx context.Context, req LinkRequest) (*Link, error) {
	body := linkRequestBody{
		ProductCode:   req.ProductCode,
		Amount:        req.Amount.StringFixed(2),
		Description:   req.Description,
		MerchantToken: req.MerchantToken,
		BuyerName:     req.BuyerName,
		BuyerEmail:    req.BuyerEmail,
		BuyerPhone:    req.BuyerPhone,
		ReturnURL:     g.cfg.ReturnURL,
		CancelURL:     g.cfg.CancelURL,
		CallbackURL:   g.cfg.CallbackURL,
	}
	body.Signature = Sign(g.cfg.ChecksumKey, strings.Join([]string{
		body.Amount, body.CancelURL, body.Description, body.ProductCode, body.ReturnURL,
	}, "|"))

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/v1/payment-links", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-client-id", g.cfg.ClientID)
	httpReq.Header.Set("x-api-key", g.cfg.APIKey)

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrGatewayUnavailable, err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d after %s", domain.ErrGatewayUnavailable, resp.StatusCode, time.Since(start))
	}

	var out linkResponseBody
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrGatewayUnavailable, err)
	}
	if out.Code != "00" || out.Data.CheckoutURL == "" {
		return nil, fmt.Errorf("%w: gateway rejected link (%s %s)", domain.ErrGatewayUnavailable, out.Code, out.Desc)
	}

	code := out.Data.ProductCode
	if code == "" {
		code = req.ProductCode
	}
	return &Link{
		PaymentURL:  out.Data.CheckoutURL,
		ProductCode: code,
		Reference:   out.Data.Reference,
	}, nil
}
