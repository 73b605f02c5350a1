package domain

// TypologyLabels are the canonical tags a profile attaches to detected
// patterns. An empty label means the check fires without a tag.
type TypologyLabels struct {
	Structuring            string `json:"structuring" yaml:"structuring"`
	Smurfing               string `json:"smurfing" yaml:"smurfing"`
	HighRiskJurisdiction   string `json:"high_risk_jurisdiction" yaml:"high_risk_jurisdiction"`
	MediumRiskJurisdiction string `json:"medium_risk_jurisdiction" yaml:"medium_risk_jurisdiction"`
	Cash                   string `json:"cash" yaml:"cash"`
}

// Common typology labels used by the built-in profiles.
const (
	TypologyStructuring        = "Structuring / Smurfing"
	TypologyTradeBased         = "Trade-Based Money Laundering"
	TypologyLayering           = "Layering"
	TypologyIntegration        = "Integration"
	TypologyTerroristFinancing = "Potential Terrorist Financing"
	TypologySanctionsEvasion   = "Sanctions Evasion"
	TypologyTaxEvasion         = "Tax Evasion Indicators"
	TypologyFraud              = "Fraud Indicators"
	TypologyCashIntensive      = "Cash-Intensive Activity"
	TypologyGeographicRisk     = "High-Risk Geography"
)
