package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// canonicalize ordena las claves y arma key=value unidos por &, omitiendo exclude.
func canonicalize(fields map[string]string, exclude string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == exclude {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}
	return b.String()
}

// saltedHash: sha256(canonical + salt) en hex.
func saltedHash(fields map[string]string, salt, exclude string) string {
	sum := sha256.Sum256([]byte(canonicalize(fields, exclude) + salt))
	return hex.EncodeToString(sum[:])
}

func hmacHex(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// signatureEqual compara en tiempo constante, sin distinguir mayúsculas del hex.
func signatureEqual(expected, got string) bool {
	if got == "" {
		return false
	}
	return hmac.Equal([]byte(strings.ToLower(expected)), []byte(strings.ToLower(strings.TrimSpace(got))))
}
