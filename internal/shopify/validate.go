package shopify

import (
	"regexp"
	"strings"
)

// ShopSuffix is the domain suffix of every shop identity.
const ShopSuffix = ".myshopify.com"

// DefaultTokenPrefixes are the prefixes of Admin API access tokens.
var DefaultTokenPrefixes = []string{"shpat_", "shpua_", "shpca_"}

var shopPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*\.myshopify\.com$`)

// ValidShop reports whether shop is a bare shop domain.
func ValidShop(shop string) bool {
	return strings.HasSuffix(shop, ShopSuffix) && shopPattern.MatchString(shop)
}

// ValidToken reports whether token carries one of prefixes.
func ValidToken(token string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(token, p) && len(token) > len(p) {
			return true
		}
	}
	return false
}
