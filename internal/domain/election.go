package domain

import (
	"encoding/json"
	"time"
)

// ZoneType is one level of the electoral geography (country, region,
// district, commune, ...).
type ZoneType struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Level  int    `json:"level" yaml:"level"`
	Parent string `json:"parent,omitempty" yaml:"parent,omitempty"`
}

// Election describes one electoral event and the choices on the ballot.
type Election struct {
	ID      string   `json:"id" yaml:"id"`
	Name    string   `json:"name" yaml:"name"`
	Kind    string   `json:"kind" yaml:"kind"`
	Date    string   `json:"date" yaml:"date"`
	Options []string `json:"options,omitempty" yaml:"options,omitempty"`
}

// Ambit groups the zone types results are published for.
type Ambit struct {
	ID        string   `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	ZoneTypes []string `json:"zone_types" yaml:"zone_types"`
	Abroad    bool     `json:"abroad,omitempty" yaml:"abroad,omitempty"`
}

// FileEntry is one object in the published file listing.
type FileEntry struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modified"`
}

// Record is a single JSON object from a schema or results file, kept verbatim.
type Record = json.RawMessage
