package npi

import (
	"strings"

	"github.com/go-faster/jx"

	"github.com/keithlinneman/linnemanlabs-npi/internal/xerrors"
)

// Document is the part of a registry response the mapper reads.
type Document struct {
	// Matches is the number of elements in the results array.
	Matches int
	// First is the first element of results, nil when absent, null or empty.
	First *Record
}

// Record is one registry result.
type Record struct {
	EnumerationType *string
	Basic           *Basic
}

// Basic is the "basic" block of a registry result.
type Basic struct {
	Status    *string
	FirstName *string
	LastName  *string
}

// DecodeRegistry reads a registry response body. Fields other than the ones
// in Document are skipped without being inspected beyond JSON syntax. Results
// after the first are syntax-checked only. Null values count as absent; a
// present value of the wrong type is an error.
func DecodeRegistry(body []byte) (Document, error) {
	var doc Document

	d := jx.DecodeBytes(body)
	if t := d.Next(); t != jx.Object {
		return doc, xerrors.Newf("registry response: expected object, got %s", t)
	}

	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "results" {
			return d.Skip()
		}
		return decodeResults(d, &doc)
	})
	if err != nil {
		return Document{}, xerrors.Wrap(err, "decode registry response")
	}
	// only whitespace may follow the object
	if t := d.Next(); t != jx.Invalid {
		return Document{}, xerrors.Newf("registry response: unexpected %s after object", t)
	}
	return doc, nil
}

func decodeResults(d *jx.Decoder, doc *Document) error {
	switch t := d.Next(); t {
	case jx.Null:
		return d.Null()
	case jx.Array:
	default:
		return xerrors.Newf("results: expected array, got %s", t)
	}

	return d.Arr(func(d *jx.Decoder) error {
		doc.Matches++
		if doc.Matches > 1 {
			return d.Skip()
		}
		rec, err := decodeRecord(d)
		if err != nil {
			return xerrors.Wrap(err, "results[0]")
		}
		doc.First = &rec
		return nil
	})
}

func decodeRecord(d *jx.Decoder) (Record, error) {
	var rec Record
	if t := d.Next(); t != jx.Object {
		return rec, xerrors.Newf("expected object, got %s", t)
	}
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "enumeration_type":
			rec.EnumerationType, err = optString(d, "enumeration_type")
		case "basic":
			rec.Basic, err = decodeBasic(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return rec, err
}

func decodeBasic(d *jx.Decoder) (*Basic, error) {
	switch t := d.Next(); t {
	case jx.Null:
		return nil, d.Null()
	case jx.Object:
	default:
		return nil, xerrors.Newf("basic: expected object, got %s", t)
	}

	var b Basic
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "status":
			b.Status, err = optString(d, "basic.status")
		case "first_name":
			b.FirstName, err = optString(d, "basic.first_name")
		case "last_name":
			b.LastName, err = optString(d, "basic.last_name")
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func optString(d *jx.Decoder, field string) (*string, error) {
	switch t := d.Next(); t {
	case jx.Null:
		return nil, d.Null()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return nil, xerrors.Wrap(err, field)
		}
		return &s, nil
	default:
		return nil, xerrors.Newf("%s: expected string, got %s", field, t)
	}
}

// MapResult turns a decoded registry document into a Result for number.
// Only the first match is considered. A match is active only when its
// basic.status is "A" in any case.
func MapResult(number string, doc Document) Result {
	rec := doc.First
	if rec == nil {
		return NotFound(number)
	}

	var status string
	if rec.Basic != nil && rec.Basic.Status != nil {
		status = strings.ToUpper(*rec.Basic.Status)
	}
	if status != "A" {
		return Inactive(number)
	}

	var enumType string
	if rec.EnumerationType != nil {
		enumType = *rec.EnumerationType
	}
	return Found(number, enumType, rec.Basic.FirstName, rec.Basic.LastName)
}
