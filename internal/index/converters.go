package index

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/ehr/fhirindex/internal/platform/fhir"
	"github.com/ehr/fhirindex/internal/platform/searchparam"
	"github.com/ehr/fhirindex/internal/platform/ucum"
)

// CurrencySystem is the code system of Money currencies.
const CurrencySystem = "urn:iso:std:iso:4217"

func numberIndex(def searchparam.Definition, v fhir.Value) (NumberIndex, bool) {
	switch v := v.(type) {
	case fhir.Integer:
		return NumberIndex{Name: def.Name, Path: def.Path, Value: decimal.NewFromInt(v.Value)}, true
	case fhir.Decimal:
		return NumberIndex{Name: def.Name, Path: def.Path, Value: v.Value}, true
	default:
		return NumberIndex{}, false
	}
}

// dateIndex handles a bare date. The range covers every day the literal's
// precision allows: "2020" spans 2020-01-01 through 2020-12-31.
func dateIndex(def searchparam.Definition, v fhir.Date) DateIndex {
	return DateIndex{Name: def.Name, Path: def.Path, From: v.Value.EpochDay(), To: v.Value.LastEpochDay()}
}

func dateTimeIndex(def searchparam.Definition, v fhir.Value) (DateTimeIndex, bool) {
	rec := DateTimeIndex{Name: def.Name, Path: def.Path}
	switch v := v.(type) {
	case fhir.DateTime:
		rec.From, rec.To = v.Value.Millis(), v.Value.UpperMillis()
	case fhir.Instant:
		rec.From, rec.To = v.Value.Millis(), v.Value.Millis()
	case fhir.Period:
		rec.From, rec.To = fhir.MinInstantMillis, fhir.MaxInstantMillis
		if v.Start != nil {
			rec.From = v.Start.Millis()
		}
		if v.End != nil {
			rec.To = v.End.UpperMillis()
		}
	case fhir.Timing:
		if len(v.Event) == 0 {
			return DateTimeIndex{}, false
		}
		rec.From, rec.To = v.Event[0].Millis(), v.Event[0].UpperMillis()
		for _, e := range v.Event[1:] {
			rec.From = min(rec.From, e.Millis())
			rec.To = max(rec.To, e.UpperMillis())
		}
	case fhir.String:
		t, err := fhir.ParseDateTime(v.Value)
		if err != nil {
			return DateTimeIndex{}, false
		}
		rec.From, rec.To = t.Millis(), t.UpperMillis()
	default:
		return DateTimeIndex{}, false
	}
	return rec, true
}

// stringIndex uses the textual form of v. HumanName renders as
// "prefix given family suffix text" and Address as its comma-joined parts.
func stringIndex(def searchparam.Definition, v fhir.Value) (StringIndex, bool) {
	if v.IsEmpty() {
		return StringIndex{}, false
	}
	s := v.String()
	if s == "" {
		return StringIndex{}, false
	}
	return StringIndex{Name: def.Name, Path: def.Path, Value: s}, true
}

func tokenIndices(def searchparam.Definition, v fhir.Value) []TokenIndex {
	switch v := v.(type) {
	case fhir.Boolean:
		return []TokenIndex{{Name: def.Name, Path: def.Path, System: nil, Value: strconv.FormatBool(v.Value)}}
	case fhir.Identifier:
		if v.Value == nil {
			return nil
		}
		return []TokenIndex{{Name: def.Name, Path: def.Path, System: v.System, Value: *v.Value}}
	case fhir.CodeableConcept:
		var out []TokenIndex
		for _, c := range v.Coding {
			if c.Code == "" {
				continue
			}
			out = append(out, TokenIndex{Name: def.Name, Path: def.Path, System: ptr(c.System), Value: c.Code})
		}
		return out
	case fhir.Coding:
		if v.Code == "" {
			return nil
		}
		return []TokenIndex{{Name: def.Name, Path: def.Path, System: ptr(v.System), Value: v.Code}}
	case fhir.Code:
		if v.Value == "" {
			return nil
		}
		return []TokenIndex{{Name: def.Name, Path: def.Path, System: nil, Value: v.Value}}
	case fhir.ID:
		if v.Value == "" {
			return nil
		}
		id := v.IDPart()
		if id == "" {
			id = v.Value
		}
		return []TokenIndex{{Name: def.Name, Path: def.Path, System: nil, Value: id}}
	default:
		return nil
	}
}

// referenceIndex returns ErrUnsupportedValue for shapes that cannot carry a
// reference.
func referenceIndex(def searchparam.Definition, v fhir.Value) (ReferenceIndex, bool, error) {
	if v.IsEmpty() {
		return ReferenceIndex{}, false, nil
	}
	var s string
	switch v := v.(type) {
	case fhir.Reference:
		s = v.Reference
	case fhir.Canonical:
		s = v.Value
	case fhir.URI:
		s = v.Value
	default:
		return ReferenceIndex{}, false, fmt.Errorf("%w: %s for reference parameter %q", ErrUnsupportedValue, v.FHIRType(), def.Name)
	}
	if s == "" {
		return ReferenceIndex{}, false, nil
	}
	return ReferenceIndex{Name: def.Name, Path: def.Path, Value: s}, true, nil
}

// quantityIndices may return two records for a Quantity: one keyed by the
// human-readable unit and one by the coded unit. UCUM coded units are
// canonicalized; on failure fallback is called and the raw code is kept.
func quantityIndices(def searchparam.Definition, v fhir.Value, units UnitCanonicalizer, fallback func(code string, err error)) []QuantityIndex {
	switch v := v.(type) {
	case fhir.Money:
		if !v.Value.Valid {
			return nil
		}
		return []QuantityIndex{{Name: def.Name, Path: def.Path, System: CurrencySystem, Unit: v.Currency, Value: v.Value.Decimal}}
	case fhir.Quantity:
		if !v.Value.Valid {
			return nil
		}
		out := make([]QuantityIndex, 0, 2)
		if v.Unit != "" {
			out = append(out, QuantityIndex{Name: def.Name, Path: def.Path, System: "", Unit: v.Unit, Value: v.Value.Decimal})
		}
		code, value := v.Code, v.Value.Decimal
		if v.System == ucum.System && v.Code != "" && units != nil {
			canonicalCode, canonicalValue, err := units.Canonicalize(v.Code, v.Value.Decimal)
			if err != nil {
				fallback(v.Code, err)
			} else {
				code, value = canonicalCode, canonicalValue
			}
		}
		out = append(out, QuantityIndex{Name: def.Name, Path: def.Path, System: v.System, Unit: code, Value: value})
		return out
	default:
		return nil
	}
}

func uriIndex(def searchparam.Definition, v fhir.Value) (URIIndex, bool) {
	var s string
	switch v := v.(type) {
	case fhir.URI:
		s = v.Value
	case fhir.Canonical:
		s = v.Value
	default:
		return URIIndex{}, false
	}
	if s == "" {
		return URIIndex{}, false
	}
	return URIIndex{Name: def.Name, Path: def.Path, Value: s}, true
}

func positionIndex(v fhir.Value) (PositionIndex, bool) {
	p, ok := v.(fhir.Position)
	if !ok {
		return PositionIndex{}, false
	}
	return PositionIndex{Latitude: p.Latitude.InexactFloat64(), Longitude: p.Longitude.InexactFloat64()}, true
}

func ptr(s string) *string { return &s }
