// payments.go
package config

import (
	"strings"
	"time"
)

type Mode string

const (
	ModeSandbox    Mode = "sandbox"
	ModeProduction Mode = "production"
)

// GatewayConfig agrupa credenciales, endpoints y límites de un proveedor.
// Los montos (MinAmount, MaxAmount, Fees.Fixed) están siempre en PKR.
type GatewayConfig struct {
	Enabled bool
	Mode    Mode

	MerchantID    string
	Password      string
	IntegritySalt string
	StoreID       string
	APIKey        string
	SecretKey     string
	WebhookSecret string
	ClientID      string
	ClientSecret  string

	SandboxURL    string
	ProductionURL string

	Currency       string
	ConversionRate float64 // PKR por unidad de Currency (solo si Currency != PKR)
	MinAmount      int64
	MaxAmount      int64
	Expiry         time.Duration

	ReturnURL   string
	CancelURL   string
	CallbackURL string

	Fees Fees
}

// BaseURL resuelve el endpoint según el modo (sandbox / production).
func (g GatewayConfig) BaseURL() string {
	if g.Mode == ModeProduction {
		return strings.TrimRight(g.ProductionURL, "/")
	}
	return strings.TrimRight(g.SandboxURL, "/")
}

type Fees struct {
	Percentage      float64
	PercentageLocal float64 // se usa cuando el monto es menor a LocalBelow
	LocalBelow      int64
	Fixed           float64
	TaxRate         float64
}

type CODCity struct {
	Available      bool
	DeliveryDays   int
	Charges        int64
	MinOrderAmount int64
	MaxOrderAmount int64
}

type COD struct {
	Enabled       bool
	MaxOrderValue int64
	// Desde este subtotal no se cobra el recargo de entrega
	FreeShippingThreshold int64
	Cities                map[string]CODCity
}

type Payments struct {
	JazzCash  GatewayConfig
	EasyPaisa GatewayConfig
	Bank      GatewayConfig
	Stripe    GatewayConfig
	PayPal    GatewayConfig
	COD       COD
}

func modeFor(env string) Mode {
	if env == "production" {
		return ModeProduction
	}
	return ModeSandbox
}

func loadPayments(env, frontendURL, backendURL string) Payments {
	mode := modeFor(env)

	return Payments{
		JazzCash: GatewayConfig{
			Enabled:       getEnvBool("JAZZCASH_ENABLED", true),
			Mode:          mode,
			MerchantID:    getEnv("JAZZCASH_MERCHANT_ID", ""),
			Password:      getEnv("JAZZCASH_PASSWORD", ""),
			IntegritySalt: getEnv("JAZZCASH_INTEGRITY_SALT", ""),
			SandboxURL:    "https://sandbox.jazzcash.com.pk",
			ProductionURL: "https://payments.jazzcash.com.pk",
			Currency:      "PKR",
			MinAmount:     getEnvInt64("JAZZCASH_MIN_AMOUNT", 100),
			MaxAmount:     getEnvInt64("JAZZCASH_MAX_AMOUNT", 500000),
			Expiry:        getEnvDuration("JAZZCASH_EXPIRY", 30*time.Minute),
			ReturnURL:     frontendURL + "/payment/jazzcash/return",
			Fees:          Fees{Percentage: 1.5, Fixed: 10, TaxRate: 0.17},
		},
		EasyPaisa: GatewayConfig{
			Enabled:       getEnvBool("EASYPAISA_ENABLED", true),
			Mode:          mode,
			StoreID:       getEnv("EASYPAISA_STORE_ID", ""),
			APIKey:        getEnv("EASYPAISA_API_KEY", ""),
			SecretKey:     getEnv("EASYPAISA_SECRET_KEY", ""),
			SandboxURL:    getEnv("EASYPAISA_SANDBOX_URL", "https://sandbox.easypaisa.com.pk"),
			ProductionURL: "https://easypaisa.com.pk",
			Currency:      "PKR",
			MinAmount:     getEnvInt64("EASYPAISA_MIN_AMOUNT", 100),
			MaxAmount:     getEnvInt64("EASYPAISA_MAX_AMOUNT", 300000),
			Expiry:        getEnvDuration("EASYPAISA_EXPIRY", 15*time.Minute),
			ReturnURL:     frontendURL + "/payment/easypaisa/return",
			CancelURL:     frontendURL + "/payment/easypaisa/cancel",
			CallbackURL:   backendURL + "/payments/easypaisa/callback",
			Fees:          Fees{Percentage: 1.8, Fixed: 15, TaxRate: 0.17},
		},
		Bank: GatewayConfig{
			Enabled:       getEnvBool("BANK_ENABLED", true),
			Mode:          mode,
			MerchantID:    getEnv("BANK_MERCHANT_ID", ""),
			APIKey:        getEnv("BANK_API_KEY", ""),
			SecretKey:     getEnv("BANK_SECRET_KEY", ""),
			SandboxURL:    "https://sandbox.meezanbank.com",
			ProductionURL: "https://meezanbank.com",
			Currency:      "PKR",
			MinAmount:     getEnvInt64("BANK_MIN_AMOUNT", 1000),
			MaxAmount:     getEnvInt64("BANK_MAX_AMOUNT", 2000000),
			// Las transferencias se confirman tarde: ventana larga
			Expiry:      getEnvDuration("BANK_EXPIRY", 72*time.Hour),
			ReturnURL:   frontendURL + "/payment/bank/return",
			CallbackURL: backendURL + "/payments/bank/callback",
			Fees:        Fees{Percentage: 1.8, Fixed: 20, TaxRate: 0.17},
		},
		Stripe: GatewayConfig{
			Enabled:       getEnvBool("STRIPE_ENABLED", true),
			Mode:          mode,
			APIKey:        getEnv("STRIPE_PUBLISHABLE_KEY", ""),
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			SandboxURL:    getEnv("STRIPE_API_URL", "https://api.stripe.com"),
			ProductionURL: "https://api.stripe.com",
			Currency:      "pkr",
			MinAmount:     getEnvInt64("STRIPE_MIN_AMOUNT", 50),
			MaxAmount:     getEnvInt64("STRIPE_MAX_AMOUNT", 1000000),
			Expiry:        getEnvDuration("STRIPE_EXPIRY", 60*time.Minute),
			Fees:          Fees{Percentage: 2.9, PercentageLocal: 1.5, LocalBelow: 100000, Fixed: 20, TaxRate: 0.17},
		},
		PayPal: GatewayConfig{
			Enabled:        getEnvBool("PAYPAL_ENABLED", true),
			Mode:           mode,
			ClientID:       getEnv("PAYPAL_CLIENT_ID", ""),
			ClientSecret:   getEnv("PAYPAL_CLIENT_SECRET", ""),
			SandboxURL:     getEnv("PAYPAL_SANDBOX_URL", "https://api.sandbox.paypal.com"),
			ProductionURL:  "https://api.paypal.com",
			Currency:       "USD",
			ConversionRate: getEnvFloat("PAYPAL_PKR_PER_USD", 280),
			// 1 USD .. 10.000 USD expresado en PKR
			MinAmount: getEnvInt64("PAYPAL_MIN_AMOUNT", 280),
			MaxAmount: getEnvInt64("PAYPAL_MAX_AMOUNT", 2800000),
			Expiry:    getEnvDuration("PAYPAL_EXPIRY", 180*time.Minute),
			ReturnURL: frontendURL + "/payment/paypal/return",
			CancelURL: frontendURL + "/payment/paypal/cancel",
			Fees:      Fees{Percentage: 4.4, PercentageLocal: 3.4, LocalBelow: 500000, Fixed: 84, TaxRate: 0.17},
		},
		COD: COD{
			Enabled:               getEnvBool("COD_ENABLED", true),
			MaxOrderValue:         getEnvInt64("COD_MAX_ORDER_VALUE", 50000),
			FreeShippingThreshold: getEnvInt64("FREE_SHIPPING_THRESHOLD", 1000),
			Cities:                DefaultCODCities(),
		},
	}
}

// DefaultCODCities es la tabla estática de elegibilidad contra reembolso.
func DefaultCODCities() map[string]CODCity {
	return map[string]CODCity{
		"karachi":    {Available: true, DeliveryDays: 2, Charges: 0, MinOrderAmount: 500, MaxOrderAmount: 50000},
		"lahore":     {Available: true, DeliveryDays: 2, Charges: 0, MinOrderAmount: 500, MaxOrderAmount: 50000},
		"islamabad":  {Available: true, DeliveryDays: 1, Charges: 0, MinOrderAmount: 500, MaxOrderAmount: 50000},
		"rawalpindi": {Available: true, DeliveryDays: 1, Charges: 0, MinOrderAmount: 500, MaxOrderAmount: 50000},
		"faisalabad": {Available: true, DeliveryDays: 3, Charges: 0, MinOrderAmount: 1000, MaxOrderAmount: 30000},
		"multan":     {Available: true, DeliveryDays: 3, Charges: 100, MinOrderAmount: 1000, MaxOrderAmount: 30000},
		"peshawar":   {Available: true, DeliveryDays: 3, Charges: 150, MinOrderAmount: 1000, MaxOrderAmount: 25000},
		"quetta":     {Available: true, DeliveryDays: 4, Charges: 200, MinOrderAmount: 2000, MaxOrderAmount: 20000},
	}
}
