package models

// IDKey is the metadata key that joins a summary row to its original document.
const IDKey = "doc_id"

// Element types produced by partitioning.
const (
	ElementTable = "table"
	ElementText  = "text"
)

// Document is original content as kept in the docstore and handed to the LLM.
type Document struct {
	ID       string                 `json:"id,omitempty"`
	Content  string                 `json:"page_content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// DocID returns the join identifier stored in the metadata, if any.
func (d Document) DocID() (string, bool) {
	if d.Metadata == nil {
		return "", false
	}
	id, ok := d.Metadata[IDKey].(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Element is one partitioned piece of a source document.
type Element struct {
	Type    string
	Content string
	Page    int
	Source  string
}

type ScoredDocument struct {
	Document
	Score float32
}

// StoredDocument is one row of the vector collection.
type StoredDocument struct {
	ID       string                 `json:"id"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata"`
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Answer is the result of one retrieval chain call.
type Answer struct {
	Input   string     `json:"input"`
	Answer  string     `json:"answer"`
	Context []Document `json:"context"`
}
