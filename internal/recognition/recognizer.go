package recognition

import "context"

// Tier names one quality/speed configuration of the recognition service.
// Tiers are tried strictly in the order a fallback strategy defines.
type Tier string

const (
	// TierFast is the cheap, quick model tried first by most strategies.
	TierFast Tier = "fast"
	// TierAccurate is the slower, higher-quality model.
	TierAccurate Tier = "accurate"
	// TierStable is the self-hosted fallback of last resort.
	TierStable Tier = "stable"
)

// Page is one captured manifest page awaiting recognition.
type Page struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mimeType"`
}

// Item is one extracted manifest line.
type Item struct {
	SlNo        int     `json:"slNo"`
	SerialNo    string  `json:"serialNo"`
	Description string  `json:"description"`
	Type        string  `json:"type"` // Parcel or Document
	Weight      float64 `json:"weight"`
}

// ManifestData is the structured result of recognizing one manifest's pages.
type ManifestData struct {
	ManifestNo   string   `json:"manifestNo"`
	ManifestDate string   `json:"manifestDate"` // YYYY-MM-DD
	Items        []Item   `json:"items"`
	Errors       []string `json:"errors,omitempty"`
}

// Recognizer drives the external document-recognition service. Failure is
// opaque; callers react only by retrying with the next tier.
type Recognizer interface {
	// Recognize extracts manifest data from a group of page images using
	// the named tier
	Recognize(ctx context.Context, pages []Page, tier Tier) (*ManifestData, error)
	// Close releases underlying clients
	Close() error
}

// manifestScanPrompt is the shared prompt for all recognition tiers.
const manifestScanPrompt = `You are analyzing one or more pages of a courier manifest (a consignment list used for parcel billing). Carefully read all text in the images and extract the following information:

1. **Manifest Number**: The carrier-assigned manifest or consignment sheet number, usually printed in a header. If none is visible, use null.

2. **Manifest Date**: The date printed on the manifest. Convert it to ISO 8601 format (YYYY-MM-DD). Common source formats: DD/MM/YYYY, MM/DD/YYYY, or written dates.

3. **Line Items**: Every row of the manifest table. For each row extract:
   - serialNo: the consignment/AWB/tracking number for that row
   - description: the free-text contents description, if any
   - type: "Parcel" for weighed shipments, "Document" for flat-rate document envelopes
   - weight: the weight in kilograms as a number (e.g. 5.2); use 0 if unreadable

Return ONLY valid JSON in this exact format:
{
  "manifestNo": "string or null",
  "manifestDate": "YYYY-MM-DD",
  "items": [
    {"serialNo": "string", "description": "string", "type": "Parcel", "weight": 0.0}
  ]
}

Important:
- Include every visible row, in top-to-bottom page order
- The weight must be a number (not a string)
- If you cannot read a field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`
