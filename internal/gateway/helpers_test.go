package gateway

import (
	"time"

	"checkout-service/internal/config"
	"checkout-service/internal/model"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func testPayments(baseURL string) config.Payments {
	return config.Payments{
		JazzCash: config.GatewayConfig{
			Enabled: true, Mode: config.ModeSandbox,
			MerchantID: "MC123", Password: "pass", IntegritySalt: "salt123",
			SandboxURL: baseURL, MinAmount: 100, MaxAmount: 500000,
			Expiry: 30 * time.Minute, ReturnURL: "http://shop.test/return",
			Fees: config.Fees{Percentage: 1.5, Fixed: 10, TaxRate: 0.17},
		},
		EasyPaisa: config.GatewayConfig{
			Enabled: true, Mode: config.ModeSandbox,
			StoreID: "ST1", APIKey: "ep-key", SecretKey: "ep-secret",
			SandboxURL: baseURL, MinAmount: 100, MaxAmount: 300000,
			Expiry: 15 * time.Minute,
		},
		Bank: config.GatewayConfig{
			Enabled: true, Mode: config.ModeSandbox,
			MerchantID: "MZ1", SecretKey: "bank-secret",
			SandboxURL: baseURL, MinAmount: 1000, MaxAmount: 2000000,
			Expiry: 72 * time.Hour,
		},
		Stripe: config.GatewayConfig{
			Enabled: true, Mode: config.ModeSandbox,
			APIKey: "pk_test", SecretKey: "sk_test", WebhookSecret: "whsec_test",
			SandboxURL: baseURL, Currency: "pkr", MinAmount: 50, MaxAmount: 1000000,
			Expiry: time.Hour,
		},
		PayPal: config.GatewayConfig{
			Enabled: true, Mode: config.ModeSandbox,
			ClientID: "client", ClientSecret: "secret",
			SandboxURL: baseURL, Currency: "USD", ConversionRate: 280,
			MinAmount: 280, MaxAmount: 2800000, Expiry: 3 * time.Hour,
		},
		COD: config.COD{
			Enabled:       true,
			MaxOrderValue: 50000,
			Cities:        config.DefaultCODCities(),
		},
	}
}

func testRequest(amount int64) InitiateRequest {
	return InitiateRequest{
		OrderRef: "ORD-1001",
		Amount:   amount,
		Contact:  model.Contact{Name: "Ayesha", Email: "ayesha@example.com", Phone: "03001234567"},
		City:     "Lahore",
	}
}
