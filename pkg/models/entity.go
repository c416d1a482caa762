package models

// EntityCategory is the closed set of entity kinds kept for the knowledge graph.
type EntityCategory string

const (
	CategoryPerson       EntityCategory = "person"
	CategoryOrganization EntityCategory = "organization"
	CategoryLocation     EntityCategory = "location"
	CategoryProduct      EntityCategory = "product"
	CategoryEvent        EntityCategory = "event"
	CategoryWorkOfArt    EntityCategory = "work_of_art"
	CategoryLaw          EntityCategory = "law"
	CategoryLanguage     EntityCategory = "language"
	CategoryTechnology   EntityCategory = "technology"

	// Numeric categories are only kept when explicitly retained.
	CategoryDate     EntityCategory = "date"
	CategoryQuantity EntityCategory = "quantity"
)

var knowledgeCategories = map[EntityCategory]bool{
	CategoryPerson:       true,
	CategoryOrganization: true,
	CategoryLocation:     true,
	CategoryProduct:      true,
	CategoryEvent:        true,
	CategoryWorkOfArt:    true,
	CategoryLaw:          true,
	CategoryLanguage:     true,
	CategoryTechnology:   true,
}

// IsKnowledge reports whether the category belongs in the knowledge graph by default.
func (c EntityCategory) IsKnowledge() bool {
	return knowledgeCategories[c]
}

// IsNumeric reports whether the category is a raw date or number.
func (c EntityCategory) IsNumeric() bool {
	return c == CategoryDate || c == CategoryQuantity
}

// Entity is a named entity. ID is derived from normalized text and category,
// so the same entity found on different pages maps to the same graph node.
type Entity struct {
	ID         string            `json:"id"`
	Text       string            `json:"text"`
	Category   EntityCategory    `json:"category"`
	Start      int               `json:"start"`
	End        int               `json:"end"`
	Confidence float64           `json:"confidence"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
