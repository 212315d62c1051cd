// Package entitlements maps subscription tiers to feature sets and usage
// limits. The mapping is a pure function of the tier: no scattered
// conditionals, and an explicit free-tier fallback for unrecognized tiers.
package entitlements

import (
	_ "embed"
	"fmt"
	"slices"

	"github.com/gannetcloud/tenantd/internal/models"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

//go:embed tiers.yaml
var tiersYAML []byte

type tierDefinition struct {
	Features []string           `yaml:"features"`
	Limits   models.UsageLimits `yaml:"limits"`
}

var tiers map[models.Tier]tierDefinition

func init() {
	if err := yaml.Unmarshal(tiersYAML, &tiers); err != nil {
		panic(fmt.Sprintf("entitlements: invalid tiers.yaml: %v", err))
	}
	if _, ok := tiers[models.TierFree]; !ok {
		panic("entitlements: tiers.yaml must define the free tier")
	}
}

// FeaturesForTier returns the feature set for a tier. An unrecognized tier
// yields the free tier's features rather than an error, so a bad tier value
// can never fail provisioning outright.
func FeaturesForTier(tier models.Tier) []string {
	def, ok := tiers[tier]
	if !ok {
		def = tiers[models.TierFree]
	}
	return slices.Clone(def.Features)
}

// LimitsForTier returns the usage limits for a tier, with the same free-tier
// fallback as FeaturesForTier.
func LimitsForTier(tier models.Tier) models.UsageLimits {
	def, ok := tiers[tier]
	if !ok {
		def = tiers[models.TierFree]
	}
	return def.Limits
}

// HasFeature reports whether a tier includes a feature.
func HasFeature(tier models.Tier, feature string) bool {
	return lo.Contains(FeaturesForTier(tier), feature)
}

// KnownTiers returns all configured tiers.
func KnownTiers() []models.Tier {
	return lo.Keys(tiers)
}
