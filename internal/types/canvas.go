package types

import "time"

// CanvasInfo describes one <canvas> element read from a page. DataURL holds
// a short preview; DataLength and DataSHA256 describe the full data URL.
// ImagePath is set when the decoded PNG was written to disk.
type CanvasInfo struct {
	Index      int    `json:"index"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	DataURL    string `json:"data_url,omitempty"`
	DataLength int    `json:"data_length,omitempty"`
	DataSHA256 string `json:"data_sha256,omitempty"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	ImagePath  string `json:"image_path,omitempty"`
}

// Extraction is a stored canvas extraction for one tab.
type Extraction struct {
	ID        string       `json:"id"`
	TabID     TabID        `json:"tab_id"`
	URL       string       `json:"url"`
	CreatedAt time.Time    `json:"created_at"`
	Canvases  []CanvasInfo `json:"canvases"`
}
