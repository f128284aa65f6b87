package crawler

import (
	"net/http"
	"strings"
	"time"
)

// Role labels a crawl request with the kind of page it targets.
type Role string

// Request roles routed by the orchestrator.
const (
	RoleProduct  Role = "PRODUCT"
	RoleSeller   Role = "SELLER"
	RoleCategory Role = "CATEGORY"
	RoleKeyword  Role = "KEYWORD"
)

// ParseRole maps a free-form label onto a Role. Unknown or empty labels
// resolve to RoleProduct so direct URLs are treated as product pages.
func ParseRole(label string) Role {
	switch Role(strings.ToUpper(strings.TrimSpace(label))) {
	case RoleSeller:
		return RoleSeller
	case RoleCategory:
		return RoleCategory
	case RoleKeyword:
		return RoleKeyword
	default:
		return RoleProduct
	}
}

// IsListing reports whether the role targets a listing-style page.
func (r Role) IsListing() bool {
	return r == RoleSeller || r == RoleCategory || r == RoleKeyword
}

// Availability is the normalized stock status of a product.
type Availability string

// Availability values. A nil *Availability means unknown.
const (
	InStock    Availability = "IN_STOCK"
	OutOfStock Availability = "OUT_OF_STOCK"
)

// CrawlRequest is a unit of work in the frontier. It is never mutated after creation.
type CrawlRequest struct {
	URL     string            `json:"url"`
	Role    Role              `json:"role"`
	Context map[string]string `json:"context,omitempty"`
}

// Price carries the sale price, optional reference price and currency code.
type Price struct {
	Current  *float64 `json:"current"`
	Original *float64 `json:"original"`
	Currency *string  `json:"currency"`
}

// Seller identifies the storefront account that lists a product.
type Seller struct {
	Handle *string `json:"handle"`
	Name   *string `json:"name"`
	URL    *string `json:"url"`
}

// Creator is a video cross-reference that promotes a product.
type Creator struct {
	Creator  string `json:"creator"`
	VideoURL string `json:"videoUrl"`
	Likes    *int64 `json:"likes"`
	Comments *int64 `json:"comments"`
	Shares   *int64 `json:"shares"`
}

// PriceChange records a transition of price.current.
type PriceChange struct {
	From *float64 `json:"from"`
	To   float64  `json:"to"`
}

// AvailabilityChange records a transition of availability.
type AvailabilityChange struct {
	From *Availability `json:"from"`
	To   Availability  `json:"to"`
}

// ChangeSet is the diff between a new record and its previous snapshot.
// FirstSeen is exclusive with the field diffs.
type ChangeSet struct {
	FirstSeen    bool                `json:"firstSeen,omitempty"`
	Price        *PriceChange        `json:"price,omitempty"`
	Availability *AvailabilityChange `json:"availability,omitempty"`
}

// IsEmpty reports whether no tracked field changed.
func (c ChangeSet) IsEmpty() bool {
	return !c.FirstSeen && c.Price == nil && c.Availability == nil
}

// ProductRecord is one normalized output row for a product page.
type ProductRecord struct {
	ProductID       string        `json:"productId"`
	URL             string        `json:"url"`
	Title           *string       `json:"title"`
	Description     *string       `json:"description"`
	Price           Price         `json:"price"`
	Availability    *Availability `json:"availability"`
	Rating          *float64      `json:"rating"`
	ReviewCount     *int64        `json:"reviewCount"`
	Seller          Seller        `json:"seller"`
	Images          []string      `json:"images"`
	Creators        []Creator     `json:"creators"`
	ScreenshotKey   *string       `json:"screenshotKey"`
	CapturedAt      time.Time     `json:"capturedAt"`
	DetectedChanges ChangeSet     `json:"detectedChanges"`
}

// ErrorKind classifies a per-request failure.
type ErrorKind string

// Error kinds surfaced on error records.
const (
	ErrorKindAcquisition ErrorKind = "acquisition"
	ErrorKindPersistence ErrorKind = "persistence"
	ErrorKindExtraction  ErrorKind = "extraction"
)

// ErrorRecord is emitted in place of a product record when a request fails.
type ErrorRecord struct {
	Type         string    `json:"type"`
	URL          string    `json:"url"`
	Role         Role      `json:"role"`
	ErrorKind    ErrorKind `json:"errorKind"`
	ErrorMessage string    `json:"errorMessage"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewErrorRecord builds an error-typed output row.
func NewErrorRecord(req CrawlRequest, kind ErrorKind, err error, at time.Time) ErrorRecord {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return ErrorRecord{
		Type:         "error",
		URL:          req.URL,
		Role:         req.Role,
		ErrorKind:    kind,
		ErrorMessage: msg,
		Timestamp:    at,
	}
}

// PageState is the bag of optionally present embedded data blobs on a page.
// Every field holds raw text exactly as found; readers parse it themselves.
type PageState struct {
	// LinkedData holds the bodies of application/ld+json script blocks.
	LinkedData []string `json:"linkedData,omitempty"`
	// Hydration is the framework hydration payload (e.g. __NEXT_DATA__).
	Hydration string `json:"hydration,omitempty"`
	// StateCache is a client-side normalized cache keyed by opaque IDs.
	StateCache string `json:"stateCache,omitempty"`
	// Scripts holds the remaining inline script text.
	Scripts []string `json:"scripts,omitempty"`
}

// FetchRequest captures everything needed to open a page.
type FetchRequest struct {
	URL     string
	Role    Role
	Headers http.Header
}

// StringPtr returns a pointer to s, or nil when s is blank.
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// FloatPtr returns a pointer to f.
func FloatPtr(f float64) *float64 {
	return &f
}

// IntPtr returns a pointer to i.
func IntPtr(i int64) *int64 {
	return &i
}

// AvailabilityPtr returns a pointer to a.
func AvailabilityPtr(a Availability) *Availability {
	return &a
}
