package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultBoat    ResultType = "boat"
	ResultService ResultType = "service"
	ResultMessage ResultType = "message"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	BoatID     string     `json:"boatId,omitempty"`
	CustomerID string     `json:"customerId"`
}

// Query describes a search request. CustomerID scopes results to one
// customer; it is empty only for a staff/admin view.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	CustomerID string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexBoat(b BoatRecord) error
	IndexService(s ServiceRecordDoc) error
	IndexMessage(m MessageRecord) error
	DeleteBoat(id string) error
}

// BoatRecord is the data we index for a boat.
type BoatRecord struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Make       string `json:"make"`
	Model      string `json:"model"`
	Slip       string `json:"slip"`
	CustomerID string `json:"customerId"`
}

// ServiceRecordDoc is the data we index for a service record.
type ServiceRecordDoc struct {
	ID          string `json:"id"`
	ServiceType string `json:"serviceType"`
	Notes       string `json:"notes"`
	Technician  string `json:"technician"`
	BoatID      string `json:"boatId"`
	CustomerID  string `json:"customerId"`
}

// MessageRecord is the data we index for a portal message.
type MessageRecord struct {
	ID         string `json:"id"`
	Body       string `json:"body"`
	AuthorName string `json:"authorName"`
	CustomerID string `json:"customerId"`
}
