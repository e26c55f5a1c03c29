package topics

import "github.com/un-fck/webtv.unfck.org/internal/types"

// Taxonomy is a fixed catalog of classification labels. The transcript
// content embeds copies of the entries it uses; this catalog stays the
// source of truth for label and description.
type Taxonomy map[string]types.Topic

// Entries returns the topics for the given keys, skipping unknown keys.
func (t Taxonomy) Entries(keys []string) map[string]types.Topic {
	out := make(map[string]types.Topic)
	for _, k := range keys {
		if topic, ok := t[k]; ok {
			out[k] = topic
		}
	}
	return out
}

// Has reports whether key is part of the taxonomy.
func (t Taxonomy) Has(key string) bool {
	_, ok := t[key]
	return ok
}

func mk(key, label, description string) types.Topic {
	return types.Topic{Key: key, Label: label, Description: description}
}

// General is the broad subject taxonomy for proceedings.
var General = Taxonomy{
	"peace_security":   mk("peace_security", "Peace and Security", "Armed conflict, peacekeeping, ceasefires and conflict prevention"),
	"human_rights":     mk("human_rights", "Human Rights", "Civil, political, economic, social and cultural rights"),
	"climate":          mk("climate", "Climate and Environment", "Climate change, emissions, biodiversity and environmental protection"),
	"development":      mk("development", "Sustainable Development", "Poverty reduction, financing for development, SDG implementation"),
	"health":           mk("health", "Global Health", "Pandemics, health systems and access to medicine"),
	"migration":        mk("migration", "Migration and Refugees", "Displacement, asylum and migration governance"),
	"humanitarian":     mk("humanitarian", "Humanitarian Affairs", "Humanitarian access, relief operations and protection of civilians"),
	"disarmament":      mk("disarmament", "Disarmament", "Nuclear and conventional weapons, non-proliferation"),
	"gender":           mk("gender", "Gender Equality", "Women's rights, participation and gender-based violence"),
	"rule_of_law":      mk("rule_of_law", "Rule of Law", "International law, accountability and judicial institutions"),
	"digital":          mk("digital", "Digital Cooperation", "Internet governance, cybersecurity and emerging technology"),
	"trade_economy":    mk("trade_economy", "Trade and Economy", "Trade policy, debt, sanctions and the global economy"),
	"procedural":       mk("procedural", "Procedural", "Points of order, scheduling and conduct of the meeting"),
}

// Reform is the reform-initiative taxonomy, tracked separately from the
// general subjects.
var Reform = Taxonomy{
	"sc_membership":     mk("sc_membership", "Council Membership", "Enlargement and categories of Security Council membership"),
	"veto":              mk("veto", "Veto", "Use, limitation or abolition of the veto"),
	"working_methods":   mk("working_methods", "Working Methods", "Transparency, subsidiary bodies and procedures of the Council"),
	"regional_rep":      mk("regional_rep", "Regional Representation", "Representation of regions and regional groups"),
	"ga_revitalization": mk("ga_revitalization", "GA Revitalization", "Strengthening the role of the General Assembly"),
	"sg_selection":      mk("sg_selection", "SG Selection", "Process for selecting the Secretary-General"),
	"financing":         mk("financing", "Financing Reform", "Assessed contributions and budget reform"),
	"text_based":        mk("text_based", "Text-Based Negotiations", "Moving intergovernmental negotiations to a single text"),
}
