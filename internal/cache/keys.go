package cache

import "strings"

// Key prefixes, one per logical query type.
const (
	PrefixZones      = "zones"
	PrefixElections  = "elections"
	PrefixAmbit      = "ambit"
	PrefixFiles      = "files"
	PrefixNotCopied  = "not-copy"
	PrefixScenery    = "scenery"
	PrefixData       = "data"
	PrefixResults    = "results"
	PrefixSearch     = "search"
	PrefixSearchType = "search-type"
)

const keySeparator = "-"

var partEscaper = strings.NewReplacer("%", "%25", keySeparator, "%2D")

// Key derives the cache key for prefix and its distinguishing parameters.
// Parts are kept as given, except that "%" and "-" are percent-escaped so
// that two different tuples under one prefix can never produce the same key:
//
//	Key("results", "zone", "5")   == "results-zone-5"
//	Key("results", "zone", "50")  == "results-zone-50"
//	Key("data", "a-b")            == "data-a%2Db"
func Key(prefix string, parts ...string) string {
	if len(parts) == 0 {
		return prefix
	}
	var b strings.Builder
	b.WriteString(prefix)
	for _, p := range parts {
		b.WriteString(keySeparator)
		b.WriteString(partEscaper.Replace(p))
	}
	return b.String()
}
