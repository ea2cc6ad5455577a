package manifest

import (
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Folder archives", func() {
	var (
		store *mockStore
		repo  *Repository
	)

	importInto := func(folderID, manifestNo string) *Manifest {
		payload := fmt.Sprintf(`{"manifestNo": %q, "rows": [{"serialNo": "AWB1", "type": "Document"}]}`, manifestNo)
		outcome, err := repo.ImportCandidate([]byte(payload), folderID)
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome.Kind).To(Equal(OutcomeImported))
		return outcome.Manifest
	}

	BeforeEach(func() {
		store = newMockStore()
		repo = NewRepositoryWithDeps(store, &sequenceIDGenerator{}, &fixedTimeSource{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)})
		Expect(repo.SetDefaultConfig(testBillingConfig())).To(Succeed())
	})

	Describe("ExportFolder", func() {
		It("packs the folder's manifests plus a metadata entry", func() {
			folder, err := repo.CreateFolder("May deliveries")
			Expect(err).NotTo(HaveOccurred())
			importInto(folder.ID, "MF-1")
			importInto(folder.ID, "MF-2")
			importInto("", "MF-OUTSIDE")

			archive, name, err := repo.ExportFolder(folder.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(name).To(Equal("May deliveries.zip"))

			entries, err := unpackArchive(archive)
			Expect(err).NotTo(HaveOccurred())
			names := make([]string, 0, len(entries))
			for _, entry := range entries {
				names = append(names, entry.Name)
			}
			Expect(names).To(ConsistOf("MF-1.json", "MF-2.json", "folder.json"))
		})

		It("sanitizes unsafe manifest numbers in entry names", func() {
			folder, err := repo.CreateFolder("Odd numbers")
			Expect(err).NotTo(HaveOccurred())
			importInto(folder.ID, "MF 01/A")

			archive, _, err := repo.ExportFolder(folder.ID)
			Expect(err).NotTo(HaveOccurred())
			entries, err := unpackArchive(archive)
			Expect(err).NotTo(HaveOccurred())
			names := make([]string, 0, len(entries))
			for _, entry := range entries {
				names = append(names, entry.Name)
			}
			Expect(names).To(ContainElement("MF_01_A.json"))
		})

		It("fails for an unknown folder", func() {
			_, _, err := repo.ExportFolder("nope")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("ImportArchive", func() {
		It("round-trips a folder export", func() {
			folder, err := repo.CreateFolder("May deliveries")
			Expect(err).NotTo(HaveOccurred())
			importInto(folder.ID, "MF-1")
			importInto(folder.ID, "MF-2")

			archive, _, err := repo.ExportFolder(folder.ID)
			Expect(err).NotTo(HaveOccurred())

			Expect(repo.Delete(importedID(repo, "MF-1"))).To(Succeed())
			Expect(repo.Delete(importedID(repo, "MF-2"))).To(Succeed())
			Expect(repo.EmptyBin()).To(Succeed())
			Expect(repo.DeleteFolder(folder.ID)).To(Succeed())

			restored, results, err := repo.ImportArchive(archive, "upload.zip")
			Expect(err).NotTo(HaveOccurred())
			Expect(restored.Name).To(Equal("May deliveries"))
			Expect(results).To(HaveLen(2))
			for _, item := range results {
				Expect(item.Status).To(Equal("imported"))
				Expect(item.Manifest.FolderID).To(Equal(restored.ID))
			}
		})

		It("names the folder from the archive when metadata is absent", func() {
			archive, err := packArchive([]File{
				{Name: "MF-1.json", Data: []byte(`{"manifestNo": "MF-1", "rows": []}`)},
			})
			Expect(err).NotTo(HaveOccurred())

			folder, results, err := repo.ImportArchive(archive, "backups/shipments.zip")
			Expect(err).NotTo(HaveOccurred())
			Expect(folder.Name).To(Equal("shipments"))
			Expect(results).To(HaveLen(1))
		})

		It("auto-skips manifests that still exist", func() {
			folder, err := repo.CreateFolder("May deliveries")
			Expect(err).NotTo(HaveOccurred())
			importInto(folder.ID, "MF-1")

			archive, _, err := repo.ExportFolder(folder.ID)
			Expect(err).NotTo(HaveOccurred())

			_, results, err := repo.ImportArchive(archive, "again.zip")
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Status).To(ContainSubstring("already exists"))
		})

		It("ignores non-json entries", func() {
			archive, err := packArchive([]File{
				{Name: "readme.txt", Data: []byte("hello")},
				{Name: "MF-1.json", Data: []byte(`{"manifestNo": "MF-1", "rows": []}`)},
			})
			Expect(err).NotTo(HaveOccurred())

			_, results, err := repo.ImportArchive(archive, "mixed.zip")
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
		})

		It("rejects data that is not an archive", func() {
			_, _, err := repo.ImportArchive([]byte("not a zip"), "x.zip")
			Expect(err).To(HaveOccurred())
		})
	})
})

// importedID resolves a live manifest number to its record identity.
func importedID(repo *Repository, manifestNo string) string {
	m, err := repo.FindByNumber(manifestNo)
	Expect(err).NotTo(HaveOccurred())
	return m.ID
}
