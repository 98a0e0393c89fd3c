package classifier

import (
	"fmt"
	"os"

	"github.com/pfrederiksen/raceradar/internal/event"
	"gopkg.in/yaml.v3"
)

// DefaultRules returns the built-in multilingual rule set.
// Patterns are matched against lower-cased text.
func DefaultRules() []Rule {
	return []Rule{
		{
			Status:     event.StatusSoldOut,
			Confidence: SoldOutConfidence,
			Patterns: []string{
				// en
				`sold out`, `entries closed`, `registration closed`,
				// de
				`ausgebucht`, `ausverkauft`,
				// fr (complet, complète), it (esaurito), es
				`complet`, `esaurit`, `agotado`,
			},
		},
		{
			Status:     event.StatusWaitlist,
			Confidence: WaitlistConfidence,
			Patterns: []string{
				`waitlist`, `waiting list`,
				`warteliste`,
				`liste d'attente`,
				`lista d'attesa`,
				`lista de espera`,
			},
		},
		{
			Status:     event.StatusNotYetOpen,
			Confidence: NotYetOpenConfidence,
			Patterns: []string{
				`opens`, `opening`, `goes on sale`, `coming soon`,
				`ouverture`, `apertura`, `abre`,
			},
		},
		{
			Status:     event.StatusOpen,
			Confidence: OpenConfidence,
			Patterns: []string{
				`enter now`, `register`, `sign up`, `book now`, `entries open`,
				`anmelden`, `anmeldung`,
				// inscription, inscripción, iscriviti, iscrizione
				`inscr`, `iscriv`,
			},
		},
		{
			Status:     event.StatusUnknown,
			Confidence: UnknownConfidence,
		},
	}
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a YAML rule file of the form
//
//	rules:
//	  - status: sold_out
//	    confidence: 0.95
//	    patterns: ["sold out", "ausgebucht"]
//
// The rules are validated by building a classifier from them.
func LoadRules(path string) (*Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules: %w", err)
	}

	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing rules: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, &ValidationError{Reason: "rule file has no rules"}
	}

	return New(f.Rules)
}

// MarshalRules renders rules in the LoadRules file format
func MarshalRules(rules []Rule) ([]byte, error) {
	return yaml.Marshal(ruleFile{Rules: rules})
}
