package manifest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/nvimal/courierbill/internal/billing"
)

// MaxBatchFiles is the hard cap on files in one bulk import.
const MaxBatchFiles = 30

// ErrInvalidStructure is returned when a payload is not a manifest-shaped
// JSON object with a rows array.
var ErrInvalidStructure = errors.New("invalid structure")

// OutcomeKind discriminates the result of an interactive import.
type OutcomeKind string

const (
	OutcomeImported OutcomeKind = "imported"
	OutcomeConflict OutcomeKind = "conflict"
	OutcomeRejected OutcomeKind = "rejected"
)

// Outcome is the closed result of ImportCandidate. Exactly one of the
// optional fields is populated per kind: Manifest for Imported, Existing
// and Candidate for Conflict, Reason for Rejected.
type Outcome struct {
	Kind      OutcomeKind
	Manifest  *Manifest
	Existing  *Manifest
	Candidate *Manifest
	Reason    string
}

// Resolution is the user's answer to an import conflict.
type Resolution string

const (
	ResolutionKeepBoth Resolution = "keep_both"
	ResolutionOverride Resolution = "override"
	ResolutionDiscard  Resolution = "discard"
)

// importPayload is the wire shape of one manifest file. Parsed JSON is
// validated into this closed form before any field is trusted; amounts and
// breakdowns from the file itself are never used.
type importPayload struct {
	ManifestNo   string          `json:"manifestNo"`
	ManifestDate string          `json:"manifestDate"`
	Rows         []importRow     `json:"rows"`
	Config       *billing.Config `json:"config"`
}

type importRow struct {
	SlNo         int             `json:"slNo"`
	SerialNo     string          `json:"serialNo"`
	Description  string          `json:"description"`
	Type         string          `json:"type"`
	Weight       float64         `json:"weight"`
	Rate         decimal.Decimal `json:"rate"`
	IsManualRate bool            `json:"isManualRate"`
}

// File is one named payload in a bulk import or archive.
type File struct {
	Name string
	Data []byte
}

// BatchItem reports the fate of one file in a bulk import.
type BatchItem struct {
	Name     string    `json:"name"`
	Status   string    `json:"status"`
	Manifest *Manifest `json:"manifest,omitempty"`
}

// parseCandidate validates raw payload bytes into an unpersisted candidate
// manifest. All money fields are recalculated through the rate engine using
// the payload's embedded config when present, else the caller's default.
func (r *Repository) parseCandidate(raw []byte, folderID string) (*Manifest, error) {
	var payload importPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, ErrInvalidStructure
	}
	if payload.Rows == nil {
		return nil, ErrInvalidStructure
	}

	cfg := billing.Config{}
	if payload.Config != nil {
		cfg = *payload.Config
	} else {
		defaultCfg, err := r.DefaultConfig()
		if err != nil {
			return nil, fmt.Errorf("loading default config: %w", err)
		}
		cfg = defaultCfg
	}

	rows := make([]billing.Row, len(payload.Rows))
	for i, in := range payload.Rows {
		rows[i] = normalizeRow(in, i)
	}

	date := payload.ManifestDate
	if date == "" {
		date = r.timeSource.Now().Format("2006-01-02")
	}

	m := &Manifest{
		ManifestNo:   payload.ManifestNo,
		ManifestDate: date,
		Rows:         billing.ComputeRows(rows, cfg),
		Config:       cfg,
		FolderID:     folderID,
	}
	m.TotalAmount = billing.Total(m.Rows)
	m.ItemCount = len(m.Rows)
	return m, nil
}

func normalizeRow(in importRow, index int) billing.Row {
	serial := in.SerialNo
	if serial == "" {
		serial = fmt.Sprintf("ITEM-%d", index+1)
	}
	description := in.Description
	if description == "" {
		description = "Unknown item"
	}
	rowType := billing.RowType(in.Type)
	if rowType != billing.TypeParcel && rowType != billing.TypeDocument {
		rowType = billing.TypeParcel
	}
	return billing.Row{
		SlNo:        index + 1,
		SerialNo:    serial,
		Description: description,
		Type:        rowType,
		Weight:      in.Weight,
		Rate:        in.Rate,
		ManualRate:  in.IsManualRate,
	}
}

// ImportCandidate runs the interactive import path for one payload. A
// candidate whose manifest number matches an existing live manifest yields
// a Conflict outcome with nothing persisted; resolution happens through
// ResolveConflict.
func (r *Repository) ImportCandidate(raw []byte, folderID string) (*Outcome, error) {
	candidate, err := r.parseCandidate(raw, folderID)
	if err != nil {
		if errors.Is(err, ErrInvalidStructure) {
			return &Outcome{Kind: OutcomeRejected, Reason: "invalid structure"}, nil
		}
		return nil, err
	}

	if candidate.ManifestNo != "" {
		existing, err := r.FindByNumber(candidate.ManifestNo)
		if err == nil {
			return &Outcome{Kind: OutcomeConflict, Existing: existing, Candidate: candidate}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	saved, err := r.Save(candidate)
	if err != nil {
		return nil, err
	}
	return &Outcome{Kind: OutcomeImported, Manifest: saved}, nil
}

// ResolveConflict ends a pending import conflict. keep_both persists the
// candidate under a fresh identity alongside the existing manifest;
// override moves the existing manifest to the recycle bin and persists the
// candidate under a fresh identity; discard changes nothing. The returned
// manifest (nil for discard) becomes the caller's active manifest.
func (r *Repository) ResolveConflict(existing, candidate *Manifest, resolution Resolution) (*Manifest, error) {
	switch resolution {
	case ResolutionDiscard:
		return nil, nil
	case ResolutionOverride:
		if err := r.Delete(existing.ID); err != nil {
			return nil, fmt.Errorf("removing existing manifest: %w", err)
		}
	case ResolutionKeepBoth:
		// fall through to save
	default:
		return nil, fmt.Errorf("unknown resolution: %q", resolution)
	}

	candidate.ID = ""
	candidate.CreatedAt = r.timeSource.Now()
	saved, err := r.Save(candidate)
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// ImportBatch runs the bulk import path. Duplicates against the repository
// and against earlier files in the same batch are auto-skipped and
// reported per file; interactive conflict resolution does not scale to
// batches. At most MaxBatchFiles files are accepted.
func (r *Repository) ImportBatch(files []File, folderID string) ([]BatchItem, error) {
	if len(files) > MaxBatchFiles {
		return nil, fmt.Errorf("too many files: %d exceeds the %d file limit", len(files), MaxBatchFiles)
	}
	return r.importFiles(files, folderID)
}

func (r *Repository) importFiles(files []File, folderID string) ([]BatchItem, error) {
	seen := make(map[string]bool)
	results := make([]BatchItem, 0, len(files))

	for _, file := range files {
		candidate, err := r.parseCandidate(file.Data, folderID)
		if err != nil {
			if errors.Is(err, ErrInvalidStructure) {
				results = append(results, BatchItem{Name: file.Name, Status: "rejected: invalid structure"})
				continue
			}
			return nil, err
		}

		if candidate.ManifestNo != "" {
			if seen[candidate.ManifestNo] {
				results = append(results, BatchItem{Name: file.Name, Status: fmt.Sprintf("skipped: duplicate manifest no %s in batch", candidate.ManifestNo)})
				continue
			}
			if _, err := r.FindByNumber(candidate.ManifestNo); err == nil {
				results = append(results, BatchItem{Name: file.Name, Status: fmt.Sprintf("skipped: manifest no %s already exists", candidate.ManifestNo)})
				continue
			} else if !errors.Is(err, ErrNotFound) {
				return nil, err
			}
		}

		saved, err := r.Save(candidate)
		if err != nil {
			return nil, err
		}
		seen[saved.ManifestNo] = true
		results = append(results, BatchItem{Name: file.Name, Status: "imported", Manifest: saved})
	}

	return results, nil
}
