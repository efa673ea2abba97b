package delivery

import "storefront/internal/catalog"

// Policy decides how a paid product reaches the buyer
type Policy int

const (
	// PolicyManual means the operator delivers out of band, e.g. a license key
	PolicyManual Policy = iota
	// PolicyAsset attaches a bundled file to the confirmation
	PolicyAsset
	// PolicyEntitlement adds the buyer to the unlimited lookup allow-set
	PolicyEntitlement
)

func (p Policy) String() string {
	switch p {
	case PolicyAsset:
		return "asset"
	case PolicyEntitlement:
		return "entitlement"
	default:
		return "manual"
	}
}

// Rule is the delivery mapping of one product
type Rule struct {
	Policy Policy
	// Asset is a file name under the deliverables directory
	Asset string
}

// Rules maps product ids to delivery rules. Products without a rule are delivered manually.
type Rules map[string]Rule

// DefaultRules matches the default catalog
func DefaultRules() Rules {
	return Rules{
		"starter_bundle":             {Policy: PolicyAsset, Asset: "starter_bundle.zip"},
		"automation_suite":           {Policy: PolicyAsset, Asset: "automation_suite.zip"},
		"api_toolkit":                {Policy: PolicyManual},
		"desktop_license":            {Policy: PolicyManual},
		catalog.EntitlementProductID: {Policy: PolicyEntitlement},
	}
}

func (r Rules) lookup(productID string) Rule {
	if rule, ok := r[productID]; ok {
		return rule
	}
	return Rule{Policy: PolicyManual}
}
