package config

import "sort"

// sensitiveHosts are never recorded by default, grouped by category. A
// listed host also denies its subdomains.
var sensitiveHosts = map[string][]string{
	"banking": {
		"chase.com", "bankofamerica.com", "wellsfargo.com", "citi.com",
		"capitalone.com", "schwab.com", "fidelity.com", "vanguard.com",
		"paypal.com", "venmo.com", "navyfederal.org",
	},
	"passwords": {
		"1password.com", "lastpass.com", "bitwarden.com", "dashlane.com",
	},
	"identity": {
		"accounts.google.com", "login.microsoftonline.com", "login.live.com",
		"okta.com", "auth0.com", "login.gov", "id.me",
	},
	"health": {
		"mychart.com", "kp.org", "healthcare.gov", "medicare.gov",
	},
	"tax": {
		"irs.gov", "ssa.gov", "turbotax.intuit.com",
	},
	"crypto": {
		"coinbase.com", "kraken.com",
	},
	"payroll": {
		"workday.com", "adp.com", "gusto.com",
	},
}

// DefaultDenylistDomains returns the default capture.denylist_domains,
// sorted and without duplicates.
func DefaultDenylistDomains() []string {
	seen := make(map[string]bool)
	var out []string

	for _, hosts := range sensitiveHosts {
		for _, h := range hosts {
			if !seen[h] {
				seen[h] = true
				out = append(out, h)
			}
		}
	}
	sort.Strings(out)
	return out
}
