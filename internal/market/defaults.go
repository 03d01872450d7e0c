package market

// DefaultDefinitions lists the tradable resource types a fresh deployment
// starts with. Seeding is idempotent, so reruns are safe.
func DefaultDefinitions() []Definition {
	return []Definition{
		{ResourceType: "iron_ore", Base: 100, Min: 50, Max: 200, Volatility: 1},
		{ResourceType: "leather", Base: 60, Min: 30, Max: 120, Volatility: 1},
		{ResourceType: "arcane_dust", Base: 250, Min: 100, Max: 600, Volatility: 1.5},
		{ResourceType: "healing_herb", Base: 40, Min: 20, Max: 90, Volatility: 0.8},
		{ResourceType: "dragon_scale", Base: 900, Min: 400, Max: 2500, Volatility: 2},
	}
}
