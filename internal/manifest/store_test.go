package manifest

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

var _ = Describe("BoltStore", func() {
	var store *BoltStore

	BeforeEach(func() {
		var err error
		store, err = NewBoltStore(filepath.Join(GinkgoT().TempDir(), "courierbill.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			Expect(store.Close()).To(Succeed())
		})
	})

	Describe("manifests", func() {
		It("round-trips a manifest", func() {
			m := &Manifest{
				ID:           "m-1",
				ManifestNo:   "MF-1",
				ManifestDate: "2025-05-30",
				TotalAmount:  decimal.NewFromInt(302),
				ItemCount:    1,
				CreatedAt:    time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
			}
			Expect(store.SaveManifest(m)).To(Succeed())

			got, err := store.GetManifest("m-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ManifestNo).To(Equal("MF-1"))
			Expect(got.TotalAmount.Equal(decimal.NewFromInt(302))).To(BeTrue())
		})

		It("returns ErrNotFound for a missing manifest", func() {
			_, err := store.GetManifest("nope")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("lists and deletes", func() {
			Expect(store.SaveManifest(&Manifest{ID: "m-1"})).To(Succeed())
			Expect(store.SaveManifest(&Manifest{ID: "m-2"})).To(Succeed())

			all, err := store.ListManifests()
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(2))

			Expect(store.DeleteManifest("m-1")).To(Succeed())
			all, err = store.ListManifests()
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(1))
			Expect(all[0].ID).To(Equal("m-2"))
		})

		It("replaces a manifest saved under the same identity", func() {
			Expect(store.SaveManifest(&Manifest{ID: "m-1", ManifestNo: "MF-1"})).To(Succeed())
			Expect(store.SaveManifest(&Manifest{ID: "m-1", ManifestNo: "MF-1-REV"})).To(Succeed())

			got, err := store.GetManifest("m-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ManifestNo).To(Equal("MF-1-REV"))

			all, err := store.ListManifests()
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(1))
		})
	})

	Describe("recycle bin", func() {
		It("keeps the bin separate from the live collection", func() {
			Expect(store.SaveBinEntry(&Manifest{ID: "m-1", ManifestNo: "MF-1"})).To(Succeed())

			live, err := store.ListManifests()
			Expect(err).NotTo(HaveOccurred())
			Expect(live).To(BeEmpty())

			bin, err := store.ListBin()
			Expect(err).NotTo(HaveOccurred())
			Expect(bin).To(HaveLen(1))

			got, err := store.GetBinEntry("m-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ManifestNo).To(Equal("MF-1"))

			Expect(store.DeleteBinEntry("m-1")).To(Succeed())
			_, err = store.GetBinEntry("m-1")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("folders", func() {
		It("round-trips folders", func() {
			Expect(store.SaveFolder(&Folder{ID: "f-1", Name: "May deliveries"})).To(Succeed())

			got, err := store.GetFolder("f-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Name).To(Equal("May deliveries"))

			folders, err := store.ListFolders()
			Expect(err).NotTo(HaveOccurred())
			Expect(folders).To(HaveLen(1))

			Expect(store.DeleteFolder("f-1")).To(Succeed())
			folders, err = store.ListFolders()
			Expect(err).NotTo(HaveOccurred())
			Expect(folders).To(BeEmpty())
		})
	})

	Describe("settings", func() {
		It("returns ErrNotFound before any save", func() {
			_, err := store.GetSettings()
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("round-trips the global settings", func() {
			Expect(store.SaveSettings(&Settings{DefaultConfig: testBillingConfig(), Strategy: "hybrid"})).To(Succeed())

			got, err := store.GetSettings()
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Strategy).To(Equal("hybrid"))
			Expect(got.DefaultConfig.DocumentRate.Equal(decimal.NewFromInt(5))).To(BeTrue())
		})
	})

	Describe("session snapshot", func() {
		It("returns nil when no snapshot is persisted", func() {
			snapshot, err := store.LoadSessionSnapshot()
			Expect(err).NotTo(HaveOccurred())
			Expect(snapshot).To(BeNil())
		})

		It("round-trips raw snapshot bytes", func() {
			Expect(store.SaveSessionSnapshot([]byte(`{"id":"s-1"}`))).To(Succeed())

			snapshot, err := store.LoadSessionSnapshot()
			Expect(err).NotTo(HaveOccurred())
			Expect(snapshot).To(Equal([]byte(`{"id":"s-1"}`)))

			Expect(store.RemoveSessionSnapshot()).To(Succeed())
			snapshot, err = store.LoadSessionSnapshot()
			Expect(err).NotTo(HaveOccurred())
			Expect(snapshot).To(BeNil())
		})
	})
})
