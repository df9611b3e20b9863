package order

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"strings"
	"time"
)

const maxClientIDLen = 48

// IdempotencyKey hashes the fields that identify a logical intent. It never
// depends on time.
func (i ExecIntent) IdempotencyKey() string {
	var limit any
	if i.LimitPrice != nil {
		limit = math.Round(*i.LimitPrice*1e4) / 1e4
	}
	asset := strings.ToLower(i.AssetClass)
	if asset == "" {
		asset = AssetEquity
	}
	// map keys marshal in sorted order
	payload, _ := json.Marshal(map[string]any{
		"asset_class": asset,
		"bracket":     i.Bracket,
		"limit_price": limit,
		"qty":         i.Qty,
		"side":        strings.ToLower(i.Side),
		"symbol":      strings.ToUpper(i.Symbol),
	})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// NewClientOrderID returns "<prefix>-<yymmddHHMMSS>-<6 hex>", at most 48 chars.
func NewClientOrderID(prefix string, now time.Time) string {
	if prefix == "" {
		prefix = "gt"
	}
	id := prefix + "-" + now.UTC().Format("060102150405") + "-" + randomHex(3)
	return truncateID(id)
}

// RetryClientOrderID derives a fresh id from base for a duplicate-id retry.
func RetryClientOrderID(base string) string {
	if base == "" {
		base = "gt"
	}
	suffix := "-retry-" + randomHex(3)
	if len(base)+len(suffix) > maxClientIDLen {
		base = base[:maxClientIDLen-len(suffix)]
	}
	return base + suffix
}

func truncateID(id string) string {
	if len(id) > maxClientIDLen {
		return id[:maxClientIDLen]
	}
	return id
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand does not fail on supported platforms
		return strings.Repeat("0", 2*n)
	}
	return hex.EncodeToString(b)
}
