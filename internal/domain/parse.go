package domain

import (
	"sort"
	"strings"
	"time"
)

// Catalog field names as they appear in the JSON-LD listing.
const (
	FieldURI             = "@id"
	FieldID              = "id"
	FieldWMOCollectiveID = "wmoCollectiveId"
	FieldIssuingOffice   = "issuingOffice"
	FieldIssuanceTime    = "issuanceTime"
	FieldProductCode     = "productCode"
	FieldProductName     = "productName"
)

// localTimeLayout is ISO-8601 without an offset, as emitted by some catalog
// serializers. Such values are read as UTC.
const localTimeLayout = "2006-01-02T15:04:05.999999999"

// ParseProduct validates a raw listing and converts it to a ForecastProduct.
// Every required field must be present and a non-empty string.
func ParseProduct(raw RawProduct) (ForecastProduct, error) {
	id, err := requiredString(raw, "", FieldID)
	if err != nil {
		return ForecastProduct{}, err
	}

	issued, err := requiredString(raw, id, FieldIssuanceTime)
	if err != nil {
		return ForecastProduct{}, err
	}
	issuanceTime, err := parseIssuanceTime(issued)
	if err != nil {
		return ForecastProduct{}, &ValidationError{ID: id, Field: FieldIssuanceTime, Reason: "not an ISO-8601 timestamp: " + issued}
	}

	p := ForecastProduct{ID: id, IssuanceTime: issuanceTime}
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{FieldWMOCollectiveID, &p.WMOCollectiveID},
		{FieldIssuingOffice, &p.IssuingOffice},
		{FieldProductCode, &p.ProductCode},
		{FieldProductName, &p.ProductName},
	} {
		v, err := requiredString(raw, id, f.name)
		if err != nil {
			return ForecastProduct{}, err
		}
		*f.dst = v
	}

	if uri, ok := raw[FieldURI].(string); ok {
		p.URI = strings.TrimSpace(uri)
	}
	return p, nil
}

func requiredString(raw RawProduct, id, field string) (string, error) {
	v, ok := raw[field]
	if !ok || v == nil {
		return "", &ValidationError{ID: id, Field: field, Reason: "missing"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &ValidationError{ID: id, Field: field, Reason: "not a string"}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &ValidationError{ID: id, Field: field, Reason: "empty"}
	}
	return s, nil
}

func parseIssuanceTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(localTimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// Batch is one run's products in delivery order.
type Batch []ForecastProduct

// NewBatch validates every listing and returns the valid products sorted by
// issuance time. Ties keep feed order. A repeated id within the catalog is
// rejected in favor of its first occurrence. Rejections are returned alongside
// the batch; they never abort it.
func NewBatch(raws []RawProduct) (Batch, []error) {
	batch := make(Batch, 0, len(raws))
	var rejected []error
	seen := make(map[string]struct{}, len(raws))

	for _, raw := range raws {
		p, err := ParseProduct(raw)
		if err != nil {
			rejected = append(rejected, err)
			continue
		}
		if _, dup := seen[p.ID]; dup {
			rejected = append(rejected, &ValidationError{ID: p.ID, Field: FieldID, Reason: "duplicate id in catalog"})
			continue
		}
		seen[p.ID] = struct{}{}
		batch = append(batch, p)
	}

	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].IssuanceTime.Before(batch[j].IssuanceTime)
	})
	return batch, rejected
}
