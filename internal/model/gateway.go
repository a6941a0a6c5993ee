package model

// Gateway es el conjunto cerrado de proveedores soportados.
type Gateway string

const (
	GatewayCOD       Gateway = "cod"
	GatewayJazzCash  Gateway = "jazzcash"  // billetera con redirect firmado
	GatewayEasyPaisa Gateway = "easypaisa" // billetera vía API con callback asíncrono
	GatewayBank      Gateway = "bank"      // transferencia bancaria
	GatewayStripe    Gateway = "stripe"    // tarjeta local, payment intents
	GatewayPayPal    Gateway = "paypal"    // tarjeta / billetera internacional con captura
)

var AllGateways = []Gateway{
	GatewayCOD,
	GatewayJazzCash,
	GatewayEasyPaisa,
	GatewayBank,
	GatewayStripe,
	GatewayPayPal,
}

func ParseGateway(s string) (Gateway, bool) {
	for _, g := range AllGateways {
		if string(g) == s {
			return g, true
		}
	}
	return "", false
}
