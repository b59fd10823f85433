package catalog

// ProductCategory mirrors the billing service's purchase categories.
type ProductCategory string

const (
	CategoryOneTime      ProductCategory = "one_time"
	CategorySubscription ProductCategory = "subscription"
)

// Catalog is the static product configuration the reconciliation engine
// dispatches on. The sets are disjoint except that every member of the
// mutually exclusive group is also a subscription product.
type Catalog struct {
	OneTimeProducts      []string
	SubscriptionProducts []string
	ConsumableProducts   []string

	// MutuallyExclusiveGroup is a single named family of subscription
	// products where owning one disables purchasability of the others
	// (e.g. monthly and yearly billing periods of the same tier).
	MutuallyExclusiveGroup []string

	// ConsumableIncrements maps a consumable product to the balance
	// increment a single unit of it grants.
	ConsumableIncrements map[string]int

	// ConsumableCaps bounds the persisted balance used when deciding
	// whether a consumable remains purchasable. Zero means uncapped.
	ConsumableCaps map[string]int
}

// Default returns the catalog the service ships with. Deployments override
// it through configuration.
func Default() Catalog {
	return Catalog{
		OneTimeProducts:        []string{"fuel", "premium_upgrade"},
		SubscriptionProducts:   []string{"gold_monthly", "gold_yearly"},
		ConsumableProducts:     []string{"fuel"},
		MutuallyExclusiveGroup: []string{"gold_monthly", "gold_yearly"},
		ConsumableIncrements:   map[string]int{"fuel": 1},
		ConsumableCaps:         map[string]int{"fuel": 4},
	}
}

func contains(set []string, productID string) bool {
	for _, id := range set {
		if id == productID {
			return true
		}
	}
	return false
}

// IsOneTime reports whether the product is a one-time product.
func (c Catalog) IsOneTime(productID string) bool {
	return contains(c.OneTimeProducts, productID)
}

// IsSubscription reports whether the product is a subscription product.
func (c Catalog) IsSubscription(productID string) bool {
	return contains(c.SubscriptionProducts, productID)
}

// IsConsumable reports whether the product's entitlement is an accumulable
// balance rather than a one-time unlock.
func (c Catalog) IsConsumable(productID string) bool {
	return contains(c.ConsumableProducts, productID)
}

// InExclusiveGroup reports whether the product belongs to the mutually
// exclusive family.
func (c Catalog) InExclusiveGroup(productID string) bool {
	return contains(c.MutuallyExclusiveGroup, productID)
}

// ExclusiveSiblings returns the other members of the mutually exclusive
// family, or nil if the product is not in the family.
func (c Catalog) ExclusiveSiblings(productID string) []string {
	if !c.InExclusiveGroup(productID) {
		return nil
	}
	siblings := make([]string, 0, len(c.MutuallyExclusiveGroup)-1)
	for _, id := range c.MutuallyExclusiveGroup {
		if id != productID {
			siblings = append(siblings, id)
		}
	}
	return siblings
}

// IncrementFor returns the balance increment one unit of a consumable
// grants. Unknown products yield zero.
func (c Catalog) IncrementFor(productID string) int {
	return c.ConsumableIncrements[productID]
}

// CapFor returns the purchasability cap of a consumable balance. Zero
// means uncapped.
func (c Catalog) CapFor(productID string) int {
	return c.ConsumableCaps[productID]
}

// AllProducts returns the union of both product categories.
func (c Catalog) AllProducts() []string {
	all := make([]string, 0, len(c.OneTimeProducts)+len(c.SubscriptionProducts))
	all = append(all, c.OneTimeProducts...)
	all = append(all, c.SubscriptionProducts...)
	return all
}

// ProductsFor returns the product IDs for one billing category.
func (c Catalog) ProductsFor(category ProductCategory) []string {
	switch category {
	case CategorySubscription:
		return c.SubscriptionProducts
	default:
		return c.OneTimeProducts
	}
}
