package manifest

import (
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

var _ = Describe("ImportCandidate", func() {
	var (
		store *mockStore
		repo  *Repository
	)

	BeforeEach(func() {
		store = newMockStore()
		repo = NewRepositoryWithDeps(store, &sequenceIDGenerator{}, &fixedTimeSource{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)})
		Expect(repo.SetDefaultConfig(testBillingConfig())).To(Succeed())
	})

	When("the payload has no rows array", func() {
		It("rejects a JSON object without rows", func() {
			outcome, err := repo.ImportCandidate([]byte(`{"manifestNo": "MF-1"}`), "")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Kind).To(Equal(OutcomeRejected))
			Expect(outcome.Reason).To(Equal("invalid structure"))
		})

		It("rejects non-object payloads", func() {
			for _, payload := range []string{`[]`, `"text"`, `42`, `not json at all`} {
				outcome, err := repo.ImportCandidate([]byte(payload), "")
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.Kind).To(Equal(OutcomeRejected), "payload: %s", payload)
			}
		})

		It("rejects rows of the wrong shape", func() {
			outcome, err := repo.ImportCandidate([]byte(`{"rows": "nope"}`), "")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Kind).To(Equal(OutcomeRejected))
		})
	})

	When("the payload is valid and unseen", func() {
		payload := []byte(`{
			"manifestNo": "MF-1001",
			"manifestDate": "2025-05-30",
			"rows": [
				{"serialNo": "AWB1", "description": "Spare parts", "type": "Parcel", "weight": 177},
				{"type": "Document"}
			]
		}`)

		It("imports and persists the manifest", func() {
			outcome, err := repo.ImportCandidate(payload, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Kind).To(Equal(OutcomeImported))
			Expect(outcome.Manifest.ManifestNo).To(Equal("MF-1001"))

			all, err := repo.List()
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(1))
		})

		It("recomputes money fields with the default configuration", func() {
			outcome, err := repo.ImportCandidate(payload, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Manifest.TotalAmount.Equal(decimal.NewFromInt(302))).To(BeTrue())
			Expect(outcome.Manifest.Rows[0].Breakdown).To(Equal("10kg*3 + 100kg*2 + 67kg*1"))
		})

		It("fills placeholder serials and descriptions", func() {
			outcome, err := repo.ImportCandidate(payload, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Manifest.Rows[1].SerialNo).To(Equal("ITEM-2"))
			Expect(outcome.Manifest.Rows[1].Description).To(Equal("Unknown item"))
		})

		It("scopes the manifest to the target folder", func() {
			outcome, err := repo.ImportCandidate(payload, "folder-9")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Manifest.FolderID).To(Equal("folder-9"))
		})

		It("never trusts the payload's own amounts", func() {
			stale := []byte(`{
				"manifestNo": "MF-2",
				"rows": [{"serialNo": "AWB1", "type": "Document", "amount": "9999", "breakdown": "lies"}]
			}`)
			outcome, err := repo.ImportCandidate(stale, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Kind).To(Equal(OutcomeImported))
			Expect(outcome.Manifest.Rows[0].Amount.Equal(decimal.NewFromInt(5))).To(BeTrue())
			Expect(outcome.Manifest.Rows[0].Breakdown).To(Equal("Flat @ 5"))
		})
	})

	When("the payload embeds its own configuration", func() {
		It("prices rows with the embedded configuration", func() {
			payload := []byte(`{
				"manifestNo": "MF-3",
				"rows": [{"serialNo": "AWB1", "type": "Document"}],
				"config": {"slab1Rate": "1", "slab2Rate": "1", "slab3Rate": "1", "documentRate": "12"}
			}`)
			outcome, err := repo.ImportCandidate(payload, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Manifest.Rows[0].Amount.Equal(decimal.NewFromInt(12))).To(BeTrue())
		})
	})

	When("the manifest number already exists", func() {
		existing := []byte(`{"manifestNo": "MF-1001", "rows": [{"serialNo": "OLD", "type": "Document"}]}`)
		candidate := []byte(`{"manifestNo": "MF-1001", "rows": [{"serialNo": "NEW", "type": "Document"}]}`)

		BeforeEach(func() {
			outcome, err := repo.ImportCandidate(existing, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Kind).To(Equal(OutcomeImported))
		})

		It("yields exactly one conflict with nothing persisted", func() {
			outcome, err := repo.ImportCandidate(candidate, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Kind).To(Equal(OutcomeConflict))
			Expect(outcome.Existing.Rows[0].SerialNo).To(Equal("OLD"))
			Expect(outcome.Candidate.Rows[0].SerialNo).To(Equal("NEW"))

			all, err := repo.List()
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(1))
		})

		It("keep_both persists both under fresh identities", func() {
			outcome, err := repo.ImportCandidate(candidate, "")
			Expect(err).NotTo(HaveOccurred())

			resolved, err := repo.ResolveConflict(outcome.Existing, outcome.Candidate, ResolutionKeepBoth)
			Expect(err).NotTo(HaveOccurred())
			Expect(resolved.ID).NotTo(Equal(outcome.Existing.ID))

			all, err := repo.List()
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(2))
		})

		It("override leaves exactly one manifest with the new content", func() {
			outcome, err := repo.ImportCandidate(candidate, "")
			Expect(err).NotTo(HaveOccurred())

			resolved, err := repo.ResolveConflict(outcome.Existing, outcome.Candidate, ResolutionOverride)
			Expect(err).NotTo(HaveOccurred())
			Expect(resolved.ID).NotTo(Equal(outcome.Existing.ID))
			Expect(resolved.Rows[0].SerialNo).To(Equal("NEW"))

			all, err := repo.List()
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(1))
			Expect(all[0].ID).To(Equal(resolved.ID))

			// The overridden manifest goes to the recycle bin, not oblivion
			bin, err := repo.ListBin()
			Expect(err).NotTo(HaveOccurred())
			Expect(bin).To(HaveLen(1))
			Expect(bin[0].ID).To(Equal(outcome.Existing.ID))
		})

		It("discard changes nothing", func() {
			outcome, err := repo.ImportCandidate(candidate, "")
			Expect(err).NotTo(HaveOccurred())

			resolved, err := repo.ResolveConflict(outcome.Existing, outcome.Candidate, ResolutionDiscard)
			Expect(err).NotTo(HaveOccurred())
			Expect(resolved).To(BeNil())

			all, err := repo.List()
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(1))
			Expect(all[0].Rows[0].SerialNo).To(Equal("OLD"))
		})

		It("rejects unknown resolutions", func() {
			outcome, err := repo.ImportCandidate(candidate, "")
			Expect(err).NotTo(HaveOccurred())

			_, err = repo.ResolveConflict(outcome.Existing, outcome.Candidate, Resolution("merge"))
			Expect(err).To(HaveOccurred())
		})
	})

	When("a deleted manifest shares the number", func() {
		It("does not conflict against the recycle bin", func() {
			outcome, err := repo.ImportCandidate([]byte(`{"manifestNo": "MF-9", "rows": []}`), "")
			Expect(err).NotTo(HaveOccurred())
			Expect(repo.Delete(outcome.Manifest.ID)).To(Succeed())

			again, err := repo.ImportCandidate([]byte(`{"manifestNo": "MF-9", "rows": []}`), "")
			Expect(err).NotTo(HaveOccurred())
			Expect(again.Kind).To(Equal(OutcomeImported))
		})
	})
})

var _ = Describe("ImportBatch", func() {
	var (
		store *mockStore
		repo  *Repository
	)

	payloadFor := func(manifestNo string) []byte {
		return []byte(fmt.Sprintf(`{"manifestNo": %q, "rows": [{"serialNo": "AWB1", "type": "Document"}]}`, manifestNo))
	}

	BeforeEach(func() {
		store = newMockStore()
		repo = NewRepositoryWithDeps(store, &sequenceIDGenerator{}, &fixedTimeSource{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)})
		Expect(repo.SetDefaultConfig(testBillingConfig())).To(Succeed())
	})

	It("imports distinct files and reports per-file status", func() {
		results, err := repo.ImportBatch([]File{
			{Name: "a.json", Data: payloadFor("MF-1")},
			{Name: "b.json", Data: payloadFor("MF-2")},
		}, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(2))
		Expect(results[0].Status).To(Equal("imported"))
		Expect(results[1].Status).To(Equal("imported"))

		all, err := repo.List()
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(2))
	})

	It("auto-skips duplicates against the repository", func() {
		outcome, err := repo.ImportCandidate(payloadFor("MF-1"), "")
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome.Kind).To(Equal(OutcomeImported))

		results, err := repo.ImportBatch([]File{{Name: "a.json", Data: payloadFor("MF-1")}}, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(results[0].Status).To(ContainSubstring("already exists"))

		all, err := repo.List()
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(HaveLen(1))
	})

	It("auto-skips duplicates within the same batch", func() {
		results, err := repo.ImportBatch([]File{
			{Name: "a.json", Data: payloadFor("MF-1")},
			{Name: "b.json", Data: payloadFor("MF-1")},
		}, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(results[0].Status).To(Equal("imported"))
		Expect(results[1].Status).To(ContainSubstring("duplicate manifest no MF-1 in batch"))
	})

	It("reports invalid files without failing the batch", func() {
		results, err := repo.ImportBatch([]File{
			{Name: "a.json", Data: []byte(`garbage`)},
			{Name: "b.json", Data: payloadFor("MF-1")},
		}, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(results[0].Status).To(Equal("rejected: invalid structure"))
		Expect(results[1].Status).To(Equal("imported"))
	})

	It("enforces the 30-file cap", func() {
		files := make([]File, MaxBatchFiles+1)
		for i := range files {
			files[i] = File{Name: fmt.Sprintf("%d.json", i), Data: payloadFor(fmt.Sprintf("MF-%d", i))}
		}
		_, err := repo.ImportBatch(files, "")
		Expect(err).To(MatchError(ContainSubstring("file limit")))
	})
})
