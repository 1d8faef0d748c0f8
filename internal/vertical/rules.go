// Package vertical assigns tickets to product verticals using a
// rules-first resolution chain: human overrides, then structured source
// metadata (tracker project keys, tracker labels, helpdesk tags), then
// weighted keyword scoring over normalized text.
package vertical

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rule defines one product vertical and the signals that map tickets
// onto it. Horizontal verticals (docs, portal, reporting) lose ties
// against product verticals.
type Rule struct {
	Slug            string   `yaml:"slug"`
	Name            string   `yaml:"name"`
	Keywords        []string `yaml:"keywords"`
	TrackerProjects []string `yaml:"tracker_projects"`
	TrackerLabels   []string `yaml:"tracker_labels"`
	HelpdeskTags    []string `yaml:"helpdesk_tags"`
	Horizontal      bool     `yaml:"horizontal"`
}

type rulesFile struct {
	Verticals []Rule `yaml:"verticals"`
}

// LoadRules reads a vertical rules file, used to override the built-in
// table without a redeploy.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read verticals: %w", err)
	}
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse verticals yaml: %w", err)
	}
	if len(f.Verticals) == 0 {
		return nil, fmt.Errorf("verticals file %s defines no verticals", path)
	}
	seen := make(map[string]bool, len(f.Verticals))
	for _, r := range f.Verticals {
		if r.Slug == "" {
			return nil, fmt.Errorf("verticals file %s contains a rule with empty slug", path)
		}
		if seen[r.Slug] {
			return nil, fmt.Errorf("verticals file %s defines slug %q twice", path, r.Slug)
		}
		seen[r.Slug] = true
	}
	return f.Verticals, nil
}

// DefaultRules returns the built-in vertical table. Keyword lists are
// seed terms, refined over time via the rules file.
func DefaultRules() []Rule {
	return []Rule{
		{
			Slug:     "multicurrency-accounts-wallets",
			Name:     "Multicurrency Accounts and Wallets",
			Keywords: []string{"wallet", "virtual account", "multi-currency", "multicurrency", "ledger balance", "iban", "account number"},
		},
		{
			Slug:          "fee-engine-invoicing",
			Name:          "Fee Engine and Invoicing",
			Keywords:      []string{"fee", "fees", "pricing", "invoice", "invoicing", "surcharge", "rate card"},
			TrackerLabels: []string{"invoice", "pricing"},
			HelpdeskTags:  []string{"invoice", "pricing", "fees"},
		},
		{
			Slug:          "payins-direct-debits",
			Name:          "Payins and Direct Debits",
			Keywords:      []string{"pay-in", "payin", "direct debit", "ach debit", "sepa dd", "pull funds", "bank transfer in", "incoming payment"},
			TrackerLabels: []string{"direct-debit", "payin"},
			HelpdeskTags:  []string{"direct_debit", "payin"},
		},
		{
			Slug:            "fx-service",
			Name:            "FX Service",
			Keywords:        []string{"fx", "convert", "conversion", "quote", "rate", "swap", "order", "fx rate", "fx quote"},
			TrackerProjects: []string{"FX"},
			TrackerLabels:   []string{"fx", "rates", "quote"},
			HelpdeskTags:    []string{"fx", "rate", "quote"},
		},
		{
			Slug:          "treasury-management-gl",
			Name:          "Treasury Management and GL",
			Keywords:      []string{"treasury", "liquidity", "gl", "general ledger", "reconciliation", "nostro", "cash management"},
			TrackerLabels: []string{"treasury", "recon", "gl"},
			HelpdeskTags:  []string{"treasury", "reconciliation"},
		},
		{
			Slug:          "payouts-reliability-api",
			Name:          "Payouts Reliability and API Experience",
			Keywords:      []string{"payout", "payouts api", "stp", "webhook", "idempotency", "beneficiary", "transfer api", "payment api"},
			TrackerLabels: []string{"payouts_api", "stp"},
			HelpdeskTags:  []string{"payouts", "api"},
		},
		{
			Slug:            "swift-connect",
			Name:            "Swift Connect",
			Keywords:        []string{"swift", "mt103", "bic", "gpi", "mt202"},
			TrackerProjects: []string{"SWIFT"},
			TrackerLabels:   []string{"swift", "mt103", "bic"},
			HelpdeskTags:    []string{"swift"},
		},
		{
			Slug:          "network-payouts",
			Name:          "Network Payouts",
			Keywords:      []string{"local rails", "upi", "fps", "ach credit", "pix", "domestic payout", "local transfer"},
			TrackerLabels: []string{"local-rails", "ach", "pix", "upi", "fps"},
			HelpdeskTags:  []string{"ach", "pix", "upi", "fps"},
		},
		{
			Slug:            "global-wires",
			Name:            "Global Wires",
			Keywords:        []string{"wire", "wire transfer", "international wire", "cross-border wire", "swift wire"},
			TrackerProjects: []string{"WIRES"},
			TrackerLabels:   []string{"wire"},
			HelpdeskTags:    []string{"wire"},
		},
		{
			Slug:            "verify",
			Name:            "Verify",
			Keywords:        []string{"verify", "account verification", "name match", "beneficiary check", "account check"},
			TrackerProjects: []string{"VERIFY"},
			TrackerLabels:   []string{"verify"},
			HelpdeskTags:    []string{"verify"},
		},
		{
			Slug:            "client-onboarding",
			Name:            "Client Onboarding",
			Keywords:        []string{"kyb", "client onboarding", "entitlements", "go-live", "contracting"},
			TrackerProjects: []string{"CLIENT"},
			TrackerLabels:   []string{"onboarding", "kyb"},
			HelpdeskTags:    []string{"kyb"},
		},
		{
			Slug:            "customer-onboarding",
			Name:            "Customer Onboarding",
			Keywords:        []string{"kyc", "identity", "customer verification", "level 2", "level 3", "l2", "l3"},
			TrackerProjects: []string{"CUSTOMER"},
			TrackerLabels:   []string{"onboarding", "kyc"},
			HelpdeskTags:    []string{"kyc"},
		},
		{
			Slug:            "caas",
			Name:            "Compliance as a Service",
			Keywords:        []string{"compliance", "screening", "transaction monitoring", "cdd", "aml"},
			TrackerProjects: []string{"CAAS"},
			TrackerLabels:   []string{"compliance", "screening", "monitoring"},
			HelpdeskTags:    []string{"compliance"},
		},
		{
			Slug:          "data-reporting",
			Name:          "Data and Reporting",
			Keywords:      []string{"report", "bi", "dashboard", "export", "looker", "analytics"},
			TrackerLabels: []string{"report", "export"},
			HelpdeskTags:  []string{"report", "export"},
			Horizontal:    true,
		},
		{
			Slug:            "b2b-travel",
			Name:            "B2B Travel",
			Keywords:        []string{"vcc", "virtual card", "ota", "gds", "settlement", "travel"},
			TrackerProjects: []string{"TRAVEL"},
			TrackerLabels:   []string{"vcc", "travel"},
			HelpdeskTags:    []string{"travel"},
		},
		{
			Slug:            "platform-issuing",
			Name:            "Platform Issuing",
			Keywords:        []string{"issuing", "cards", "card", "pan", "tokenization", "authorization", "auth", "issuer"},
			TrackerProjects: []string{"ISSUING"},
			TrackerLabels:   []string{"cards", "issuing"},
			HelpdeskTags:    []string{"issuing", "card"},
		},
		{
			Slug:            "api-docs",
			Name:            "API and API Docs",
			Keywords:        []string{"openapi", "swagger", "docs", "documentation", "api reference", "reference guide"},
			TrackerProjects: []string{"DOCS"},
			TrackerLabels:   []string{"docs", "openapi"},
			HelpdeskTags:    []string{"docs"},
			Horizontal:      true,
		},
		{
			Slug:            "client-portal",
			Name:            "Client Portal",
			Keywords:        []string{"portal", "dashboard ui", "non-api", "web app", "client portal"},
			TrackerProjects: []string{"PORTAL"},
			TrackerLabels:   []string{"portal"},
			HelpdeskTags:    []string{"portal"},
			Horizontal:      true,
		},
	}
}
