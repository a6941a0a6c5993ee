package gateway

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"checkout-service/internal/config"
	"checkout-service/internal/model"
)

// labels traduce las etiquetas del checkout y los alias lógicos a un gateway.
var labels = map[string]model.Gateway{
	// checkout
	"cash on delivery": model.GatewayCOD,
	"jazzcash":         model.GatewayJazzCash,
	"easypaisa":        model.GatewayEasyPaisa,
	"meezan bank":      model.GatewayBank,
	"bank transfer":    model.GatewayBank,
	"visa":             model.GatewayStripe,
	"mastercard":       model.GatewayStripe,
	"unionpay":         model.GatewayStripe,
	"bank card":        model.GatewayStripe,
	"stripe":           model.GatewayStripe,
	"american express": model.GatewayPayPal,
	"discover":         model.GatewayPayPal,
	"paypal":           model.GatewayPayPal,
	// alias
	"cod":                model.GatewayCOD,
	"bank":               model.GatewayBank,
	"wallet-a":           model.GatewayJazzCash,
	"wallet-b":           model.GatewayEasyPaisa,
	"wallet-style":       model.GatewayJazzCash,
	"bank-transfer":      model.GatewayBank,
	"card-domestic":      model.GatewayStripe,
	"card-international": model.GatewayPayPal,
}

type options struct {
	client *http.Client
	tokens TokenCache
	now    func() time.Time
}

type Option func(*options)

func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.client = c } }

func WithTokenCache(tc TokenCache) Option { return func(o *options) { o.tokens = tc } }

func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// Registry resuelve etiquetas de método de pago a adapters. Se construye una vez
// al arrancar con la configuración ya cargada.
type Registry struct {
	adapters map[model.Gateway]Adapter
	configs  map[model.Gateway]config.GatewayConfig
	enabled  map[model.Gateway]bool
	cod      *COD
}

func NewRegistry(p config.Payments, opts ...Option) (*Registry, error) {
	o := options{
		client: &http.Client{Timeout: 30 * time.Second},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Registry{
		adapters: make(map[model.Gateway]Adapter, len(model.AllGateways)),
		configs:  make(map[model.Gateway]config.GatewayConfig, len(model.AllGateways)),
		enabled:  make(map[model.Gateway]bool, len(model.AllGateways)),
	}

	for _, g := range model.AllGateways {
		switch g {
		case model.GatewayCOD:
			r.cod = NewCOD(p.COD)
			r.adapters[g] = r.cod
			r.enabled[g] = p.COD.Enabled
			continue
		case model.GatewayJazzCash:
			r.adapters[g] = NewJazzCash(p.JazzCash, o.now)
			r.configs[g] = p.JazzCash
		case model.GatewayEasyPaisa:
			r.adapters[g] = NewEasyPaisa(p.EasyPaisa, o.client, o.now)
			r.configs[g] = p.EasyPaisa
		case model.GatewayBank:
			r.adapters[g] = NewBank(p.Bank, o.now)
			r.configs[g] = p.Bank
		case model.GatewayStripe:
			r.adapters[g] = NewStripe(p.Stripe, o.client, o.now)
			r.configs[g] = p.Stripe
		case model.GatewayPayPal:
			r.adapters[g] = NewPayPal(p.PayPal, o.client, o.tokens, o.now)
			r.configs[g] = p.PayPal
		default:
			return nil, fmt.Errorf("%w: %s no tiene adapter", ErrUnsupportedGateway, g)
		}
		r.enabled[g] = r.configs[g].Enabled
		if missing := missingCredentials(g, r.configs[g]); r.enabled[g] && len(missing) > 0 {
			// sin secreto cualquiera podría firmar un callback válido
			slog.Warn("gateway deshabilitado por credenciales incompletas", "gateway", g, "missing", missing)
			r.enabled[g] = false
		}
	}
	return r, nil
}

// missingCredentials lista el material de firma o autenticación vacío de un gateway.
func missingCredentials(g model.Gateway, c config.GatewayConfig) []string {
	var required map[string]string
	switch g {
	case model.GatewayJazzCash:
		required = map[string]string{"MerchantID": c.MerchantID, "Password": c.Password, "IntegritySalt": c.IntegritySalt}
	case model.GatewayEasyPaisa, model.GatewayBank:
		required = map[string]string{"SecretKey": c.SecretKey}
	case model.GatewayStripe:
		required = map[string]string{"SecretKey": c.SecretKey, "WebhookSecret": c.WebhookSecret}
	case model.GatewayPayPal:
		required = map[string]string{"ClientID": c.ClientID, "ClientSecret": c.ClientSecret}
	}

	var missing []string
	for name, v := range required {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// Resolve acepta etiquetas del checkout, alias y nombres canónicos, sin distinguir mayúsculas.
func (r *Registry) Resolve(label string) (Adapter, error) {
	g, ok := labels[strings.ToLower(strings.TrimSpace(label))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGateway, label)
	}
	return r.Adapter(g)
}

func (r *Registry) Adapter(g model.Gateway) (Adapter, error) {
	a, ok := r.adapters[g]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGateway, g)
	}
	if !r.enabled[g] {
		return nil, fmt.Errorf("%w: %s deshabilitado", ErrUnsupportedGateway, g)
	}
	return a, nil
}

// Enabled lista los gateways habilitados en el orden canónico.
func (r *Registry) Enabled() []model.Gateway {
	out := make([]model.Gateway, 0, len(r.enabled))
	for _, g := range model.AllGateways {
		if r.enabled[g] {
			out = append(out, g)
		}
	}
	return out
}

// Fees calcula comisiones del gateway; COD no tiene comisión de proveedor.
func (r *Registry) Fees(g model.Gateway, amount int64) (FeeBreakdown, bool) {
	c, ok := r.configs[g]
	if !ok {
		return FeeBreakdown{}, false
	}
	return CalculateFees(c, amount), true
}

func (r *Registry) COD() *COD {
	return r.cod
}
