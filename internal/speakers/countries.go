package speakers

import "strings"

// countryNames covers the ISO 3166-1 alpha-2 codes the classifier emits as
// affiliations. The authoritative country catalog is an external service;
// this table only expands codes for display on the read endpoint.
var countryNames = map[string]string{
	"AR": "Argentina",
	"AU": "Australia",
	"AT": "Austria",
	"BE": "Belgium",
	"BR": "Brazil",
	"CA": "Canada",
	"CH": "Switzerland",
	"CL": "Chile",
	"CN": "China",
	"CO": "Colombia",
	"CU": "Cuba",
	"CZ": "Czechia",
	"DE": "Germany",
	"DK": "Denmark",
	"EG": "Egypt",
	"ES": "Spain",
	"ET": "Ethiopia",
	"FI": "Finland",
	"FR": "France",
	"GB": "United Kingdom",
	"GH": "Ghana",
	"GR": "Greece",
	"ID": "Indonesia",
	"IE": "Ireland",
	"IL": "Israel",
	"IN": "India",
	"IR": "Iran",
	"IT": "Italy",
	"JP": "Japan",
	"KE": "Kenya",
	"KR": "Republic of Korea",
	"MX": "Mexico",
	"NG": "Nigeria",
	"NL": "Netherlands",
	"NO": "Norway",
	"NZ": "New Zealand",
	"PK": "Pakistan",
	"PL": "Poland",
	"PT": "Portugal",
	"QA": "Qatar",
	"RU": "Russian Federation",
	"SA": "Saudi Arabia",
	"SE": "Sweden",
	"SG": "Singapore",
	"TR": "Türkiye",
	"UA": "Ukraine",
	"US": "United States",
	"ZA": "South Africa",
}

// ExpandAffiliation turns a two-letter country code into its display name.
// Anything that is not a known code (organisation names, free text) passes
// through unchanged.
func ExpandAffiliation(affiliation string) string {
	code := strings.ToUpper(strings.TrimSpace(affiliation))
	if len(code) != 2 {
		return affiliation
	}
	if name, ok := countryNames[code]; ok {
		return name
	}
	return affiliation
}
