package manifest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/nvimal/courierbill/internal/billing"
)

// Manifest is one billing document: a dated, numbered collection of rows
// with a total. TotalAmount and ItemCount are derived from Rows on every
// save; Config is the per-manifest rate configuration captured at save time.
type Manifest struct {
	ID           string          `json:"id"`
	ManifestNo   string          `json:"manifestNo"`
	ManifestDate string          `json:"manifestDate"` // YYYY-MM-DD
	Rows         []billing.Row   `json:"rows"`
	Config       billing.Config  `json:"config"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
	ItemCount    int             `json:"itemCount"`
	FolderID     string          `json:"folderId,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Folder groups manifests by back-reference: manifests carry a FolderID,
// folders own no content. Deleting a folder reassigns its manifests to the
// root rather than deleting them.
type Folder struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Settings is the persisted global state outside any one manifest.
type Settings struct {
	DefaultConfig billing.Config `json:"defaultConfig"`
	Strategy      string         `json:"strategy,omitempty"` // preferred recognition fallback strategy
}
