// Package domain models National Weather Service (NWS) hydrometeorological
// forecast products and the rules for admitting them into the delivery pipeline.
//
// # Data Source
//
// Products are listed by the NWS API product catalog at
// https://api.weather.gov/products, filtered by product type. The producer
// requests the HML (Hydrometeorological Markup Language) type, which carries
// river stage and flow forecasts issued by River Forecast Centers and Weather
// Forecast Offices. The catalog is requested as JSON-LD; each node of the
// "@graph" array is one product listing.
//
// # Catalog Fields
//
//	@id              canonical product URI, e.g. "https://api.weather.gov/products/<id>"
//	id               product identifier, unique per catalog
//	wmoCollectiveId  WMO abbreviated heading, e.g. "SRUS53"
//	issuingOffice    ICAO-style office code, e.g. "KDVN"
//	issuanceTime     ISO-8601 timestamp, usually with an offset ("+00:00")
//	productCode      "HML"
//	productName      "Hydrometeorological Markup Language"
//
// Every field except "@id" is required. A listing missing any of them is
// rejected by [ParseProduct] with a [ValidationError]; values are never
// defaulted.
//
// # Ordering
//
// Downstream flood-warning consumers treat message order as the forecast
// timeline, so a [Batch] is always sorted by issuance time. Listings that share
// an issuance time keep their catalog order. Timestamps without an offset are
// read as UTC.
//
// # Identity
//
// The catalog id is the idempotency key. The upstream does not reuse ids within
// the delivery record lifetime (seven days), so expiring delivery records is
// safe.
package domain
