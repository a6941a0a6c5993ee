package tracking

import "strings"

type Partner struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	TrackingURL string `json:"trackingUrl"`
}

var partners = map[string]Partner{
	"tcs":      {Key: "tcs", Name: "TCS", TrackingURL: "https://www.tcsexpress.com/track"},
	"leopards": {Key: "leopards", Name: "Leopards", TrackingURL: "https://www.leopardscourier.com/track"},
	"blueex":   {Key: "blueex", Name: "BlueEx", TrackingURL: "https://www.blueex.com/track"},
}

// LookupPartner acepta la clave o el nombre comercial del courier.
func LookupPartner(name string) (Partner, bool) {
	p, ok := partners[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}
