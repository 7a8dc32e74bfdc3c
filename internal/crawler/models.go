package crawler

import (
	"sort"
	"time"
)

// ListingStub is a record discovered on a listing page before its detail
// page has been visited.
type ListingStub struct {
	NaturalID string // Site-assigned reference code
	DetailURL string // Absolute URL of the detail page
	ListTitle string // Title as shown on the listing card
}

// Attachment is a document linked from a detail page
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Kind string `json:"kind"` // pdf, doc, xls, other
}

// Person is a named contact or leader found on a detail page
type Person struct {
	Name  string `json:"name"`
	Title string `json:"title,omitempty"`
	Email string `json:"email,omitempty"`
}

// Record is the flat, best-effort result of extracting one detail page.
// NaturalID and SourceURL are always set; every other field may be empty,
// which the sink treats as null.
type Record struct {
	NaturalID    string            `json:"naturalId"`
	SourceURL    string            `json:"sourceUrl"`
	Title        string            `json:"title,omitempty"`
	Buyer        string            `json:"buyer,omitempty"`
	PublishDate  string            `json:"publishDate,omitempty"`
	ClosingDate  string            `json:"closingDate,omitempty"`
	StatusLabel  string            `json:"statusLabel,omitempty"`
	ContactText  string            `json:"contactText,omitempty"`
	ContactEmail string            `json:"contactEmail,omitempty"`
	Location     string            `json:"location,omitempty"`
	Description  string            `json:"description,omitempty"`
	Criteria     []string          `json:"criteria,omitempty"`
	Attachments  []Attachment      `json:"attachments,omitempty"`
	People       []Person          `json:"people,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// Completeness classifies how much of a record was extracted
type Completeness string

const (
	CompletenessFull     Completeness = "full"
	CompletenessPartial  Completeness = "partial"
	CompletenessStubOnly Completeness = "stub-only"
)

// Completeness derives the completeness class from the populated fields.
// Title alone does not count as content because the listing supplies it.
func (r Record) Completeness() Completeness {
	if len(r.MissingRequired()) == 0 {
		return CompletenessFull
	}
	if r.Buyer != "" || r.PublishDate != "" || r.ClosingDate != "" ||
		r.StatusLabel != "" || r.ContactText != "" || r.ContactEmail != "" ||
		r.Location != "" || r.Description != "" || len(r.Criteria) > 0 ||
		len(r.Attachments) > 0 || len(r.People) > 0 || len(r.Extra) > 0 {
		return CompletenessPartial
	}
	return CompletenessStubOnly
}

// MissingRequired returns the names of required fields that are still empty
func (r Record) MissingRequired() []string {
	var missing []string
	if r.Title == "" {
		missing = append(missing, "title")
	}
	if r.Buyer == "" {
		missing = append(missing, "buyer")
	}
	if r.ClosingDate == "" {
		missing = append(missing, "closingDate")
	}
	return missing
}

// FillMissing copies every field of other into r that r leaves empty.
// Identity fields are never touched; extra keys are merged per key.
func (r *Record) FillMissing(other Record) {
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&r.Title, other.Title)
	fill(&r.Buyer, other.Buyer)
	fill(&r.PublishDate, other.PublishDate)
	fill(&r.ClosingDate, other.ClosingDate)
	fill(&r.StatusLabel, other.StatusLabel)
	fill(&r.ContactText, other.ContactText)
	fill(&r.ContactEmail, other.ContactEmail)
	fill(&r.Location, other.Location)
	fill(&r.Description, other.Description)
	if len(r.Criteria) == 0 {
		r.Criteria = other.Criteria
	}
	if len(r.Attachments) == 0 {
		r.Attachments = other.Attachments
	}
	if len(r.People) == 0 {
		r.People = other.People
	}
	for k, v := range other.Extra {
		if r.Extra == nil {
			r.Extra = make(map[string]string)
		}
		if _, ok := r.Extra[k]; !ok {
			r.Extra[k] = v
		}
	}
}

// StubRecord builds the identity-only record for a stub
func StubRecord(stub ListingStub) Record {
	return Record{
		NaturalID: stub.NaturalID,
		SourceURL: stub.DetailURL,
		Title:     stub.ListTitle,
	}
}

// PageKind is the format of a fetched detail document
type PageKind string

const (
	KindHTML PageKind = "html"
	KindPDF  PageKind = "pdf"
)

// RenderedPage is a snapshot of a detail document handed to the extractor
type RenderedPage struct {
	URL  string
	Kind PageKind
	HTML string // Serialized DOM (html pages)
	Text string // Visible text as rendered by the browser (html pages)
	Data []byte // Raw bytes (pdf documents)
}

// ExtractContext carries what is already known about the page being extracted
type ExtractContext struct {
	Kind      PageKind
	NaturalID string
	HintTitle string
}

// FetchResult classifies a detail fetch
type FetchResult string

const (
	FetchSuccess FetchResult = "success"
	FetchPartial FetchResult = "partial"
	FetchFailed  FetchResult = "failed"
)

// DeliveryBatch is an immutable group of records handed to the dispatcher
type DeliveryBatch struct {
	ID        string
	Records   []Record
	IsFinal   bool
	EmittedAt time.Time
}

// IDs returns the natural ids of the batch in order
func (b DeliveryBatch) IDs() []string {
	ids := make([]string, len(b.Records))
	for i, r := range b.Records {
		ids[i] = r.NaturalID
	}
	return ids
}

// DeliveryOutcome reports which ids of a batch reached the sink
type DeliveryOutcome struct {
	Delivered []string
	Failed    []string
	Added     int
	Updated   int
}

// RunState is the mutable state of one crawl invocation. It is owned by the
// controller goroutine; nothing else writes to it.
type RunState struct {
	TargetCapacity int
	StartOffset    int
	SeenIDs        map[string]struct{}
	DeliveredIDs   map[string]struct{}
	Pending        *Buffer
	LastPage       int // Last listing page reached, for checkpointing
}

// NewRunState creates run state pre-seeded with ids known from earlier runs
func NewRunState(capacity, startOffset, threshold int, seen, delivered []string) *RunState {
	s := &RunState{
		TargetCapacity: capacity,
		StartOffset:    startOffset,
		SeenIDs:        make(map[string]struct{}, len(seen)),
		DeliveredIDs:   make(map[string]struct{}, len(delivered)),
		LastPage:       startOffset,
	}
	for _, id := range seen {
		s.SeenIDs[id] = struct{}{}
	}
	for _, id := range delivered {
		s.DeliveredIDs[id] = struct{}{}
		// A delivered id was necessarily seen
		s.SeenIDs[id] = struct{}{}
	}
	s.Pending = NewBuffer(threshold, s.DeliveredIDs)
	return s
}

// MarkSeen records id and reports whether it was new
func (s *RunState) MarkSeen(id string) bool {
	if _, ok := s.SeenIDs[id]; ok {
		return false
	}
	s.SeenIDs[id] = struct{}{}
	return true
}

// Restore re-offers records an earlier run extracted but never delivered.
// It must be called before the run starts.
func (s *RunState) Restore(records []Record) {
	for _, r := range records {
		if r.NaturalID == "" {
			continue
		}
		s.SeenIDs[r.NaturalID] = struct{}{}
		s.Pending.Offer(r)
	}
}

// Seen returns the seen ids in sorted order
func (s *RunState) Seen() []string {
	return sortedKeys(s.SeenIDs)
}

// Delivered returns the delivered ids in sorted order
func (s *RunState) Delivered() []string {
	return sortedKeys(s.DeliveredIDs)
}

// RunPhase is a state of the run controller
type RunPhase string

const (
	PhaseIdle           RunPhase = "idle"
	PhaseListing        RunPhase = "listing"
	PhaseDetailFetching RunPhase = "detail_fetching"
	PhaseDraining       RunPhase = "draining"
	PhaseDone           RunPhase = "done"
	PhaseAborted        RunPhase = "aborted"
)

// RunOutcome summarises a finished run for the caller
type RunOutcome struct {
	Phase         RunPhase
	Discovered    int
	Fetched       int
	Partial       int
	Failed        int
	Delivered     int
	Batches       int
	FailedBatches int
	Undelivered   []string // Ids offered this run that never reached the sink
	Duration      time.Duration
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
