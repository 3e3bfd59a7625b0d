package gumsync

import "strings"

// Policy is the resolved provisioning decision for a single product.
type Policy struct {
	AutoProvision bool
	Roles         []string
}

// ResolvePolicy decides whether a product provisions accounts and which
// roles it grants. Only products explicitly configured with auto-provision
// enabled provision anything; a configured product with no roles of its own
// falls back to the default roles.
func ResolvePolicy(settings Settings, productId string) (Policy, error) {
	productId = strings.TrimSpace(productId)
	if productId == "" {
		return Policy{}, ErrPolicyDisabled
	}

	policy, ok := settings.ProductRoles[productId]
	if !ok || !policy.AutoProvision {
		return Policy{}, ErrPolicyDisabled
	}

	roles := cleanRoles(policy.Roles)
	if len(roles) == 0 {
		roles = cleanRoles(settings.DefaultRoles)
	}
	if len(roles) == 0 {
		return Policy{}, ErrNoRolesConfigured
	}
	return Policy{AutoProvision: true, Roles: roles}, nil
}

func cleanRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	seen := map[string]bool{}
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
