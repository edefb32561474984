package models

// Document is a stored-file descriptor returned by the upload transport.
type Document struct {
	ID           string `json:"id,omitempty"`
	Filename     string `json:"filename,omitempty"`
	Size         int64  `json:"size,omitempty"`
	ContentType  string `json:"contentType,omitempty"`
	DocumentType string `json:"documentType,omitempty"`
	Category     string `json:"category,omitempty"`
	URL          string `json:"url,omitempty"`
	UploadedAt   string `json:"uploadedAt,omitempty"` // RFC 3339
}

// DocumentCategory groups document types that satisfy one upload requirement.
type DocumentCategory struct {
	Key      string
	Title    string
	Required int
	Aliases  []string
}

// DocumentCategories are the upload requirements of the document step.
var DocumentCategories = []DocumentCategory{
	{
		Key:      "proofOfAddress",
		Title:    "Proof of Address",
		Required: 1,
		Aliases:  []string{"proof_of_address", "proof-of-address", "utility-bill"},
	},
	{
		Key:      "idDocuments",
		Title:    "ID Documents",
		Required: 2,
		Aliases:  []string{"id_documents", "parent-guardian-id", "learner-birth-certificate", "spouse-id", "optional-document"},
	},
	{
		Key:      "payslips",
		Title:    "Payslips",
		Required: 3,
		Aliases:  []string{"payslips", "payslip", "proof-of-income"},
	},
	{
		Key:      "bankStatements",
		Title:    "Bank Statements",
		Required: 1,
		Aliases:  []string{"bank_statements", "bank-statement", "bank_statement"},
	},
}

// CategoryFor resolves the category of a document, matching the category key
// first and the document type aliases second.
func CategoryFor(doc Document) (DocumentCategory, bool) {
	for _, c := range DocumentCategories {
		if doc.Category == c.Key {
			return c, true
		}
	}
	for _, c := range DocumentCategories {
		for _, alias := range c.Aliases {
			if doc.DocumentType == alias || doc.Category == alias {
				return c, true
			}
		}
	}
	return DocumentCategory{}, false
}
