package models

// RecognitionResponse is the payload returned for a completed recognition.
type RecognitionResponse struct {
	Success          bool   `json:"success"`
	Text             string `json:"text"`
	Language         string `json:"language,omitempty"`
	RemainingCredits int    `json:"remaining_credits"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
	FileSize         int64  `json:"file_size"`
	Model            string `json:"model"`
}

// ServiceInfo describes the recognition service for the info endpoint.
type ServiceInfo struct {
	Service     string   `json:"service"`
	Version     string   `json:"version"`
	Status      string   `json:"status"`
	Provider    string   `json:"provider"`
	Model       string   `json:"model"`
	Configured  bool     `json:"configured"`
	APIEndpoint string   `json:"api_endpoint"`
	Features    []string `json:"features"`
}
