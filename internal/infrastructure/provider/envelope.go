package provider

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/erp/ledgersync/internal/domain/integration"
)

// Envelope fields. Providers disagree on naming and nesting, so each logical
// field lists every spelling seen in the wild.
var (
	recordsField       = integration.NewField("records", "data", "items", "records", "results")
	nestedRecordsField = integration.NewField("records", "items", "records", "results")

	nextCursorField = integration.NewField("next_cursor",
		"next_cursor", "nextCursor",
		"pagination.next_cursor", "pagination.nextCursor",
		"meta.next_cursor", "meta.nextCursor",
		"data.next_cursor", "data.nextCursor")

	hasMoreField = integration.NewField("has_more",
		"has_more", "hasMore",
		"pagination.has_more", "pagination.hasMore",
		"meta.has_more", "meta.hasMore",
		"data.has_more", "data.hasMore")
)

// decodePage parses a response body. Numbers stay json.Number so amounts keep
// their precision. A bare JSON array is a single final page.
func decodePage(body []byte) (*integration.Page, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", integration.ErrProviderInvalidResponse, err)
	}

	switch v := doc.(type) {
	case []any:
		return &integration.Page{Records: toRecords(v)}, nil
	case map[string]any:
		env := integration.RawRecord(v)
		records, err := envelopeRecords(env)
		if err != nil {
			return nil, err
		}
		page := &integration.Page{
			Records:    records,
			NextCursor: env.String(nextCursorField),
		}
		if env.Has(hasMoreField) {
			page.HasMore = env.Bool(hasMoreField)
		} else {
			page.HasMore = page.NextCursor != ""
		}
		return page, nil
	}
	return nil, fmt.Errorf("%w: unexpected document of type %T", integration.ErrProviderInvalidResponse, doc)
}

// envelopeRecords finds the record list. "data" may hold the list itself or
// a nested envelope carrying it.
func envelopeRecords(env integration.RawRecord) ([]integration.RawRecord, error) {
	raw, ok := env.Lookup(recordsField)
	if !ok {
		return nil, fmt.Errorf("%w: no record list in envelope", integration.ErrProviderInvalidResponse)
	}
	if nested, isObj := raw.(map[string]any); isObj {
		raw, ok = integration.RawRecord(nested).Lookup(nestedRecordsField)
		if !ok {
			return nil, fmt.Errorf("%w: no record list in envelope", integration.ErrProviderInvalidResponse)
		}
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: record list is %T", integration.ErrProviderInvalidResponse, raw)
	}
	return toRecords(items), nil
}

func toRecords(items []any) []integration.RawRecord {
	out := make([]integration.RawRecord, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			out = append(out, integration.RawRecord(m))
		}
	}
	return out
}
