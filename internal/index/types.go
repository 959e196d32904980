package index

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// NumberIndex indexes a numeric value.
type NumberIndex struct {
	Name  string          `json:"name"`
	Path  string          `json:"path"`
	Value decimal.Decimal `json:"value"`
}

// DateIndex indexes a date as an inclusive range of epoch days.
type DateIndex struct {
	Name string `json:"name"`
	Path string `json:"path"`
	From int64  `json:"from"`
	To   int64  `json:"to"`
}

// DateTimeIndex indexes a point or period in time as an inclusive range of
// epoch milliseconds.
type DateTimeIndex struct {
	Name string `json:"name"`
	Path string `json:"path"`
	From int64  `json:"from"`
	To   int64  `json:"to"`
}

// StringIndex indexes a textual value.
type StringIndex struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Value string `json:"value"`
}

// URIIndex indexes a URI.
type URIIndex struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Value string `json:"value"`
}

// TokenIndex indexes a code with an optional system. A nil System means the
// token has no system at all, which is distinct from an empty one.
type TokenIndex struct {
	Name   string  `json:"name"`
	Path   string  `json:"path"`
	System *string `json:"system"`
	Value  string  `json:"value"`
}

// QuantityIndex indexes an amount in a unit. System is empty for free-text
// units.
type QuantityIndex struct {
	Name   string          `json:"name"`
	Path   string          `json:"path"`
	System string          `json:"system"`
	Unit   string          `json:"unit"`
	Value  decimal.Decimal `json:"value"`
}

// ReferenceIndex indexes a reference to another resource or a canonical URL.
type ReferenceIndex struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Value string `json:"value"`
}

// PositionIndex indexes a geographic position.
type PositionIndex struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ResourceIndices is every index record extracted from one resource. Each
// slice is free of duplicates and keeps first-insertion order. Values are
// produced by a Builder and must not be modified afterwards.
type ResourceIndices struct {
	ResourceType     string           `json:"resourceType"`
	ResourceID       string           `json:"resourceId"`
	NumberIndices    []NumberIndex    `json:"numberIndices"`
	DateIndices      []DateIndex      `json:"dateIndices"`
	DateTimeIndices  []DateTimeIndex  `json:"dateTimeIndices"`
	StringIndices    []StringIndex    `json:"stringIndices"`
	URIIndices       []URIIndex       `json:"uriIndices"`
	TokenIndices     []TokenIndex     `json:"tokenIndices"`
	QuantityIndices  []QuantityIndex  `json:"quantityIndices"`
	ReferenceIndices []ReferenceIndex `json:"referenceIndices"`
	PositionIndices  []PositionIndex  `json:"positionIndices"`
}

// Len returns the total number of records.
func (ri ResourceIndices) Len() int {
	return len(ri.NumberIndices) + len(ri.DateIndices) + len(ri.DateTimeIndices) +
		len(ri.StringIndices) + len(ri.URIIndices) + len(ri.TokenIndices) +
		len(ri.QuantityIndices) + len(ri.ReferenceIndices) + len(ri.PositionIndices)
}

// Counts returns the number of records per kind, keyed by the names used in
// the JSON form and in storage table names.
func (ri ResourceIndices) Counts() map[string]int {
	return map[string]int{
		"number":    len(ri.NumberIndices),
		"date":      len(ri.DateIndices),
		"datetime":  len(ri.DateTimeIndices),
		"string":    len(ri.StringIndices),
		"uri":       len(ri.URIIndices),
		"token":     len(ri.TokenIndices),
		"quantity":  len(ri.QuantityIndices),
		"reference": len(ri.ReferenceIndices),
		"position":  len(ri.PositionIndices),
	}
}

// Record keys give structural equality for deduplication. Decimals compare
// by numeric value, so 1.0 and 1.00 are the same record.

const sep = "\x00"

func (r NumberIndex) key() string { return r.Name + sep + r.Path + sep + r.Value.String() }

func (r DateIndex) key() string {
	return r.Name + sep + r.Path + sep + strconv.FormatInt(r.From, 10) + sep + strconv.FormatInt(r.To, 10)
}

func (r DateTimeIndex) key() string {
	return r.Name + sep + r.Path + sep + strconv.FormatInt(r.From, 10) + sep + strconv.FormatInt(r.To, 10)
}

func (r StringIndex) key() string { return r.Name + sep + r.Path + sep + r.Value }

func (r URIIndex) key() string { return r.Name + sep + r.Path + sep + r.Value }

func (r TokenIndex) key() string {
	system := "\x01"
	if r.System != nil {
		system = *r.System
	}
	return r.Name + sep + r.Path + sep + system + sep + r.Value
}

func (r QuantityIndex) key() string {
	return r.Name + sep + r.Path + sep + r.System + sep + r.Unit + sep + r.Value.String()
}

func (r ReferenceIndex) key() string { return r.Name + sep + r.Path + sep + r.Value }

func (r PositionIndex) key() string {
	return strconv.FormatFloat(r.Latitude, 'g', -1, 64) + sep + strconv.FormatFloat(r.Longitude, 'g', -1, 64)
}
