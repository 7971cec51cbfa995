// Package textnlp holds the lightweight text helpers used by the pipeline:
// location normalization against a Bangladesh gazetteer, keyword extraction
// and term matching. No external dependencies.
package textnlp

import (
	"strings"
	"unicode"
)

// Place is a normalized location.
type Place struct {
	City     string
	Division string
}

// cityDivision maps canonical city names to their administrative division.
var cityDivision = map[string]string{
	"Dhaka":       "Dhaka",
	"Gazipur":     "Dhaka",
	"Narayanganj": "Dhaka",
	"Savar":       "Dhaka",
	"Tangail":     "Dhaka",
	"Faridpur":    "Dhaka",
	"Chattogram":  "Chattogram",
	"Cox's Bazar": "Chattogram",
	"Cumilla":     "Chattogram",
	"Feni":        "Chattogram",
	"Noakhali":    "Chattogram",
	"Rajshahi":    "Rajshahi",
	"Bogura":      "Rajshahi",
	"Pabna":       "Rajshahi",
	"Khulna":      "Khulna",
	"Jashore":     "Khulna",
	"Kushtia":     "Khulna",
	"Barishal":    "Barishal",
	"Patuakhali":  "Barishal",
	"Sylhet":      "Sylhet",
	"Moulvibazar": "Sylhet",
	"Habiganj":    "Sylhet",
	"Rangpur":     "Rangpur",
	"Dinajpur":    "Rangpur",
	"Mymensingh":  "Mymensingh",
	"Jamalpur":    "Mymensingh",
}

// cityAliases maps lowercase spellings and neighbourhoods to canonical cities.
var cityAliases = map[string]string{
	"dhaka":       "Dhaka",
	"dacca":       "Dhaka",
	"gulshan":     "Dhaka",
	"banani":      "Dhaka",
	"dhanmondi":   "Dhaka",
	"mirpur":      "Dhaka",
	"uttara":      "Dhaka",
	"motijheel":   "Dhaka",
	"gazipur":     "Gazipur",
	"narayanganj": "Narayanganj",
	"savar":       "Savar",
	"tangail":     "Tangail",
	"faridpur":    "Faridpur",
	"chittagong":  "Chattogram",
	"chattogram":  "Chattogram",
	"ctg":         "Chattogram",
	"coxs bazar":  "Cox's Bazar",
	"cox's bazar": "Cox's Bazar",
	"cox bazar":   "Cox's Bazar",
	"comilla":     "Cumilla",
	"cumilla":     "Cumilla",
	"feni":        "Feni",
	"noakhali":    "Noakhali",
	"rajshahi":    "Rajshahi",
	"bogra":       "Bogura",
	"bogura":      "Bogura",
	"pabna":       "Pabna",
	"khulna":      "Khulna",
	"jessore":     "Jashore",
	"jashore":     "Jashore",
	"kushtia":     "Kushtia",
	"barisal":     "Barishal",
	"barishal":    "Barishal",
	"patuakhali":  "Patuakhali",
	"sylhet":      "Sylhet",
	"moulvibazar": "Moulvibazar",
	"habiganj":    "Habiganj",
	"rangpur":     "Rangpur",
	"dinajpur":    "Dinajpur",
	"mymensingh":  "Mymensingh",
	"jamalpur":    "Jamalpur",
}

// NormalizeLocation resolves a free-form location such as "Gulshan, Dhaka,
// Bangladesh" to a known place. Comma-separated parts are tried left to
// right, so the most specific recognised part wins.
func NormalizeLocation(raw string) (Place, bool) {
	for _, part := range strings.Split(raw, ",") {
		key := normalizeKey(part)
		if key == "" {
			continue
		}
		if city, ok := cityAliases[key]; ok {
			return Place{City: city, Division: cityDivision[city]}, true
		}
		if div := divisionOf(key); div != "" {
			return Place{City: div, Division: div}, true
		}
	}
	return Place{}, false
}

// divisionOf matches "<name> division" spellings.
func divisionOf(key string) string {
	name := strings.TrimSuffix(key, " division")
	if name == key {
		return ""
	}
	if city, ok := cityAliases[name]; ok {
		return cityDivision[city]
	}
	return ""
}

// CleanLocation trims and title-cases an unrecognised location so that
// equivalent spellings share one bucket.
func CleanLocation(raw string) string {
	words := strings.Fields(strings.TrimSpace(raw))
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func normalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, " city")
	s = strings.TrimSuffix(s, " sadar")
	return strings.Join(strings.Fields(s), " ")
}
