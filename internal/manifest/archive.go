package manifest

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"
)

// metadataFileName is the reserved entry describing the exported folder;
// every other *.json entry in an archive is treated as one manifest.
const metadataFileName = "folder.json"

// folderMetadata is the small record packed alongside a folder's manifests.
type folderMetadata struct {
	Name       string    `json:"name"`
	ExportedAt time.Time `json:"exportedAt"`
	Count      int       `json:"count"`
}

// packArchive zips named files into a single archive.
func packArchive(files []File) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, file := range files {
		entry, err := w.Create(file.Name)
		if err != nil {
			return nil, fmt.Errorf("creating archive entry %s: %w", file.Name, err)
		}
		if _, err := entry.Write(file.Data); err != nil {
			return nil, fmt.Errorf("writing archive entry %s: %w", file.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing archive: %w", err)
	}
	return buf.Bytes(), nil
}

// unpackArchive extracts every file from an archive.
func unpackArchive(data []byte) ([]File, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	files := make([]File, 0, len(reader.File))
	for _, entry := range reader.File {
		rc, err := entry.Open()
		if err != nil {
			return nil, fmt.Errorf("opening archive entry %s: %w", entry.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("reading archive entry %s: %w", entry.Name, err)
		}
		files = append(files, File{Name: entry.Name, Data: content})
	}
	return files, nil
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9\-_]`)

// entryName builds a safe archive entry name from a manifest number,
// falling back to the record identity.
func entryName(m *Manifest) string {
	base := unsafeNameChars.ReplaceAllString(m.ManifestNo, "_")
	if base == "" {
		base = m.ID
	}
	return base + ".json"
}

// ExportFolder serializes every manifest in a folder plus a metadata record
// into an archive.
func (r *Repository) ExportFolder(folderID string) ([]byte, string, error) {
	folder, err := r.store.GetFolder(folderID)
	if err != nil {
		return nil, "", fmt.Errorf("getting folder: %w", err)
	}

	manifests, err := r.List()
	if err != nil {
		return nil, "", err
	}

	var files []File
	used := make(map[string]int)
	for _, m := range manifests {
		if m.FolderID != folderID {
			continue
		}
		name := entryName(m)
		if n := used[name]; n > 0 {
			name = fmt.Sprintf("%s-%d.json", strings.TrimSuffix(name, ".json"), n+1)
		}
		used[entryName(m)]++
		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("marshaling manifest %s: %w", m.ID, err)
		}
		files = append(files, File{Name: name, Data: data})
	}

	meta, err := json.MarshalIndent(folderMetadata{
		Name:       folder.Name,
		ExportedAt: r.timeSource.Now(),
		Count:      len(files),
	}, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("marshaling folder metadata: %w", err)
	}
	files = append(files, File{Name: metadataFileName, Data: meta})

	archive, err := packArchive(files)
	if err != nil {
		return nil, "", err
	}
	return archive, folder.Name + ".zip", nil
}

// ImportArchive recreates a folder from an exported archive and re-runs
// every contained manifest through the bulk validation/dedup path, scoped
// to the new folder. The folder is named from the packed metadata when
// present, else from the archive's own name.
func (r *Repository) ImportArchive(data []byte, archiveName string) (*Folder, []BatchItem, error) {
	entries, err := unpackArchive(data)
	if err != nil {
		return nil, nil, err
	}

	folderName := strings.TrimSuffix(path.Base(archiveName), path.Ext(archiveName))
	var payloads []File
	for _, entry := range entries {
		if path.Base(entry.Name) == metadataFileName {
			var meta folderMetadata
			if err := json.Unmarshal(entry.Data, &meta); err == nil && meta.Name != "" {
				folderName = meta.Name
			}
			continue
		}
		if strings.HasSuffix(entry.Name, ".json") {
			payloads = append(payloads, entry)
		}
	}
	if folderName == "" {
		folderName = "Imported folder"
	}

	folder, err := r.CreateFolder(folderName)
	if err != nil {
		return nil, nil, err
	}

	results, err := r.importFiles(payloads, folder.ID)
	if err != nil {
		return nil, nil, err
	}
	return folder, results, nil
}
