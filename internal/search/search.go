package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID          string `json:"id"`
	ClinicID    string `json:"clinicId"`
	PatientName string `json:"patientName"`
	FormName    string `json:"formName"`
	Timestamp   int64  `json:"timestamp"`
	Snippet     string `json:"snippet,omitempty"`
}

// Query describes a search request. Searches never cross clinics.
type Query struct {
	ClinicID string
	Text     string
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// SubmissionRecord is the data we index for a submission.
type SubmissionRecord struct {
	ID          string `json:"id"`
	ClinicID    string `json:"clinicId"`
	PatientName string `json:"patientName"`
	FormName    string `json:"formName"`
	Timestamp   int64  `json:"timestamp"`
	// Answers flattens the responses into "label: value" lines.
	Answers string `json:"answers"`
}

const defaultLimit = 20
