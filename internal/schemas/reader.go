// Package schemas reads the JSON datasets under the data directory: one file
// per zone, the results file and the search index. Files hold either an
// array of records or a single record; records are returned verbatim.
package schemas

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/tidwall/gjson"

	"github.com/oriys/plebiscito/internal/domain"
)

// Record fields the search and zone filters match on.
const (
	FieldType      = "type"
	FieldComplexID = "complexId"
	FieldTypeZone  = "typeZone"
	FieldIDZone    = "idZone"
)

// Reader serves records from files under Root.
type Reader struct {
	Root        string
	ResultsFile string
	SearchFile  string
}

// NewReader creates a reader rooted at the data directory.
func NewReader(root, resultsFile, searchFile string) *Reader {
	return &Reader{Root: root, ResultsFile: resultsFile, SearchFile: searchFile}
}

// Match is one field=value condition. Values compare against the field's
// string form, so "5" matches both "5" and 5.
type Match struct {
	Field string
	Value string
}

// ZoneInfo returns the records of <zone>.json.
func (r *Reader) ZoneInfo(zone string) ([]domain.Record, error) {
	if err := checkName("zone", zone); err != nil {
		return nil, err
	}
	return r.filter(zone+".json", nil)
}

// ZoneInfoByType returns the records of <zone>.json whose type is zoneType.
func (r *Reader) ZoneInfoByType(zone, zoneType string) ([]domain.Record, error) {
	if err := checkName("zone", zone); err != nil {
		return nil, err
	}
	return r.filter(zone+".json", []Match{{Field: FieldType, Value: zoneType}})
}

// Results returns every record of the results file.
func (r *Reader) Results() ([]domain.Record, error) {
	return r.filter(r.resultsFile(), nil)
}

// ResultsFilter returns the results records where key equals value.
func (r *Reader) ResultsFilter(key, value string) ([]domain.Record, error) {
	return r.filter(r.resultsFile(), []Match{{Field: key, Value: value}})
}

// ResultsFilter2 returns the results records matching both conditions.
func (r *Reader) ResultsFilter2(key1, value1, key2, value2 string) ([]domain.Record, error) {
	return r.filter(r.resultsFile(), []Match{
		{Field: key1, Value: value1},
		{Field: key2, Value: value2},
	})
}

// Search returns the search index entries for a complex id.
func (r *Reader) Search(complexID string) ([]domain.Record, error) {
	return r.filter(r.searchFile(), []Match{{Field: FieldComplexID, Value: complexID}})
}

// SearchByType returns the search index entries of one zone type.
func (r *Reader) SearchByType(typeZone string) ([]domain.Record, error) {
	return r.filter(r.searchFile(), []Match{{Field: FieldTypeZone, Value: typeZone}})
}

// SearchByTypeAndID returns the search index entries of one zone.
func (r *Reader) SearchByTypeAndID(typeZone, idZone string) ([]domain.Record, error) {
	return r.filter(r.searchFile(), []Match{
		{Field: FieldTypeZone, Value: typeZone},
		{Field: FieldIDZone, Value: idZone},
	})
}

// resultsFile and searchFile leave a nil reader to load, which reports it
// as not configured.
func (r *Reader) resultsFile() string {
	if r == nil {
		return ""
	}
	return r.ResultsFile
}

func (r *Reader) searchFile() string {
	if r == nil {
		return ""
	}
	return r.SearchFile
}

func (r *Reader) filter(name string, matches []Match) ([]domain.Record, error) {
	records, err := r.load(name)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Record, 0, len(records))
	for _, rec := range records {
		if matchesAll(rec, matches) {
			out = append(out, domain.Record(rec.Raw))
		}
	}
	return out, nil
}

func (r *Reader) load(name string) ([]gjson.Result, error) {
	if r == nil || r.Root == "" {
		return nil, domain.NotConfigured("DATA_PATH")
	}
	if name == "" {
		return nil, domain.NotConfigured("dataset file name")
	}
	p, err := securejoin.SecureJoin(r.Root, name)
	if err != nil {
		return nil, fmt.Errorf("error joining path %q: %w", name, err)
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.NotFound(fmt.Sprintf("dataset %q", name))
	}
	if err != nil {
		return nil, fmt.Errorf("error reading dataset %q: %w", name, err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("dataset %q is not valid JSON", name)
	}

	doc := gjson.ParseBytes(data)
	switch {
	case doc.IsArray():
		return doc.Array(), nil
	case doc.IsObject():
		return []gjson.Result{doc}, nil
	default:
		return nil, fmt.Errorf("dataset %q holds neither records nor a record", name)
	}
}

// matchesAll compares top-level fields by exact name, so keys containing
// gjson path syntax ('.', '*', '#') are not interpreted.
func matchesAll(rec gjson.Result, matches []Match) bool {
	if len(matches) == 0 {
		return true
	}
	if !rec.IsObject() {
		return false
	}
	for _, m := range matches {
		if !fieldEquals(rec, m.Field, m.Value) {
			return false
		}
	}
	return true
}

func fieldEquals(rec gjson.Result, field, value string) bool {
	found := false
	rec.ForEach(func(k, v gjson.Result) bool {
		if k.String() != field {
			return true
		}
		found = v.Type != gjson.JSON && v.Type != gjson.Null && v.String() == value
		return false
	})
	return found
}

func checkName(param, v string) error {
	if strings.TrimSpace(v) == "" || strings.ContainsAny(v, `/\`) || v == "." || v == ".." {
		return domain.InvalidArgument(param, v)
	}
	return nil
}
