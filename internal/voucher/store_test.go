package voucher

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Alamsyahapriatama/voucher-storage-esp32/internal/localstate"
)

var _ = Describe("Store", func() {
	var (
		kv     *mockKV
		remote *mockRemote
		store  *Store
		ctx    context.Context
	)

	newVoucher := func(id string, uploaded time.Time) Voucher {
		return Voucher{
			ID:         id,
			Filename:   fmt.Sprintf("scan-%s.jpg", id),
			Title:      "Voucher " + id,
			ImageURL:   "http://localhost/esp32-api/uploads/scan-" + id + ".jpg",
			OCRText:    "TOTAL " + id,
			UploadDate: uploaded,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		kv = newMockKV()
		remote = &mockRemote{}
		store = NewStore(kv, remote)
	})

	Describe("Add", func() {
		It("places the newest voucher first", func() {
			Expect(store.Add(newVoucher("1", time.Now()))).To(Succeed())
			Expect(store.Add(newVoucher("2", time.Now()))).To(Succeed())

			list := store.List()
			Expect(list).To(HaveLen(2))
			Expect(list[0].ID).To(Equal("2"))
			Expect(list[1].ID).To(Equal("1"))
		})

		It("persists the full collection", func() {
			Expect(store.Add(newVoucher("1", time.Now()))).To(Succeed())
			Expect(kv.entries).To(HaveKey("vouchers"))
			Expect(string(kv.entries["vouchers"])).To(ContainSubstring(`"id":"1"`))
		})

		It("replaces a voucher with the same id", func() {
			Expect(store.Add(newVoucher("1", time.Now()))).To(Succeed())
			Expect(store.Add(newVoucher("2", time.Now()))).To(Succeed())
			replacement := newVoucher("1", time.Now())
			replacement.Title = "Edited"
			Expect(store.Add(replacement)).To(Succeed())

			list := store.List()
			Expect(list).To(HaveLen(2))
			Expect(list[0].Title).To(Equal("Edited"))
		})

		When("persisting fails", func() {
			BeforeEach(func() {
				kv.putErr = errBoom
			})

			It("leaves the collection untouched", func() {
				Expect(store.Add(newVoucher("1", time.Now()))).To(MatchError(errBoom))
				Expect(store.List()).To(BeEmpty())
			})
		})
	})

	Describe("Remove", func() {
		BeforeEach(func() {
			Expect(store.Add(newVoucher("41", time.Now()))).To(Succeed())
			Expect(store.Add(newVoucher("42", time.Now()))).To(Succeed())
		})

		When("the backend confirms", func() {
			It("removes the voucher locally", func() {
				Expect(store.Remove(ctx, "42")).To(Succeed())
				Expect(remote.removedIDs).To(Equal([]string{"42"}))
				Expect(store.List()).To(HaveLen(1))
				Expect(store.List()[0].ID).To(Equal("41"))
			})

			It("persists the shorter collection", func() {
				Expect(store.Remove(ctx, "42")).To(Succeed())
				Expect(string(kv.entries["vouchers"])).NotTo(ContainSubstring(`"id":"42"`))
			})
		})

		When("the backend delete fails with HTTP 500", func() {
			var before []byte

			BeforeEach(func() {
				remote.removeErr = fmt.Errorf("%w: DELETE (status 500)", ErrNetwork)
				before = kv.entries["vouchers"]
			})

			It("surfaces the network error", func() {
				Expect(store.Remove(ctx, "42")).To(MatchError(ErrNetwork))
			})

			It("leaves the local collection unchanged", func() {
				_ = store.Remove(ctx, "42")
				Expect(store.List()).To(HaveLen(2))
				Expect(kv.entries["vouchers"]).To(Equal(before))
			})
		})
	})

	Describe("Update", func() {
		var original Voucher

		BeforeEach(func() {
			original = newVoucher("5", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
			Expect(store.Add(newVoucher("6", time.Now()))).To(Succeed())
			Expect(store.Add(original)).To(Succeed())
		})

		When("the backend accepts the change", func() {
			BeforeEach(func() {
				updated := original
				updated.Title = "Renamed"
				remote.updated = &updated
			})

			It("replaces the voucher in place", func() {
				title := "Renamed"
				v, err := store.Update(ctx, "5", Patch{Title: &title})
				Expect(err).NotTo(HaveOccurred())
				Expect(v.Title).To(Equal("Renamed"))
				Expect(store.List()[0].Title).To(Equal("Renamed"))
				Expect(store.List()).To(HaveLen(2))
			})

			It("keeps the current filename when none is given", func() {
				_, err := store.Update(ctx, "5", Patch{})
				Expect(err).NotTo(HaveOccurred())
				Expect(remote.patches[0].Filename).To(Equal("scan-5.jpg"))
			})
		})

		When("the voucher is not in the collection and no filename is given", func() {
			It("rejects the update without calling the backend", func() {
				_, err := store.Update(ctx, "404", Patch{})
				Expect(err).To(MatchError(ErrNotFound))
				Expect(remote.patches).To(BeEmpty())
			})
		})

		When("the backend fails", func() {
			BeforeEach(func() {
				remote.updateErr = ErrNetwork
			})

			It("returns the error and keeps the old record", func() {
				_, err := store.Update(ctx, "5", Patch{})
				Expect(err).To(MatchError(ErrNetwork))
				Expect(store.List()[0].Title).To(Equal("Voucher 5"))
			})
		})
	})

	Describe("Refresh", func() {
		When("the backend lists vouchers", func() {
			BeforeEach(func() {
				older := newVoucher("1", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
				newer := newVoucher("2", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
				remote.vouchers = []*Voucher{&older, &newer}
			})

			It("replaces the collection, most recent first", func() {
				Expect(store.Add(newVoucher("stale", time.Now()))).To(Succeed())
				Expect(store.Refresh(ctx)).To(Succeed())

				list := store.List()
				Expect(list).To(HaveLen(2))
				Expect(list[0].ID).To(Equal("2"))
				Expect(list[1].ID).To(Equal("1"))
			})

			It("keeps vouchers that exist only on this device", func() {
				local := newVoucher("mock-1", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
				local.ImageURL = "data:image/jpeg;base64,/9j/"
				Expect(store.Add(local)).To(Succeed())
				Expect(store.Refresh(ctx)).To(Succeed())

				list := store.List()
				Expect(list).To(HaveLen(3))
				Expect(list[0].ID).To(Equal("mock-1"))
			})

			It("keeps a voucher added while the list is in flight", func() {
				remote.onList = func() {
					defer GinkgoRecover()
					Expect(store.Add(newVoucher("fresh", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))).To(Succeed())
				}
				Expect(store.Refresh(ctx)).To(Succeed())

				list := store.List()
				Expect(list).To(HaveLen(3))
				Expect(list[0].ID).To(Equal("fresh"))
			})
		})

		When("the backend lists nothing in mock mode", func() {
			It("does not delete mock vouchers", func() {
				local := newVoucher("mock-2", time.Now())
				local.ImageURL = "data:image/png;base64,iVBOR"
				Expect(store.Add(local)).To(Succeed())
				Expect(store.Refresh(ctx)).To(Succeed())
				Expect(store.List()).To(HaveLen(1))
			})
		})

		When("the backend fails", func() {
			BeforeEach(func() {
				remote.listErr = ErrNetwork
			})

			It("keeps the current collection", func() {
				Expect(store.Add(newVoucher("1", time.Now()))).To(Succeed())
				Expect(store.Refresh(ctx)).To(MatchError(ErrNetwork))
				Expect(store.List()).To(HaveLen(1))
			})
		})
	})

	Describe("Search and Get", func() {
		BeforeEach(func() {
			hotel := newVoucher("1", time.Now())
			hotel.Title = "Jababeka Hotel"
			fuel := newVoucher("2", time.Now())
			fuel.OCRText = "PERTAMINA FUEL"
			Expect(store.Add(hotel)).To(Succeed())
			Expect(store.Add(fuel)).To(Succeed())
		})

		It("filters on title and OCR text", func() {
			Expect(store.Search("hotel")).To(HaveLen(1))
			Expect(store.Search("fuel")[0].ID).To(Equal("2"))
			Expect(store.Search("")).To(HaveLen(2))
		})

		It("returns a voucher by id", func() {
			v, err := store.Get("1")
			Expect(err).NotTo(HaveOccurred())
			Expect(v.Title).To(Equal("Jababeka Hotel"))
		})

		It("reports unknown ids", func() {
			_, err := store.Get("nope")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("Load", func() {
		When("nothing was persisted", func() {
			It("starts empty", func() {
				Expect(store.Load()).To(Succeed())
				Expect(store.List()).To(BeEmpty())
			})
		})

		When("the persisted entry is malformed", func() {
			BeforeEach(func() {
				Expect(store.Add(newVoucher("1", time.Now()))).To(Succeed())
				kv.entries["vouchers"] = []byte("{not valid")
			})

			It("returns a persistence error", func() {
				Expect(store.Load()).To(MatchError(ErrPersistence))
			})

			It("resets to an empty collection", func() {
				_ = store.Load()
				Expect(store.List()).To(BeEmpty())
			})

			It("discards the corrupt entry", func() {
				_ = store.Load()
				Expect(kv.entries).NotTo(HaveKey("vouchers"))
			})
		})

		When("reading local state fails", func() {
			BeforeEach(func() {
				kv.getErr = errBoom
			})

			It("returns the error", func() {
				Expect(store.Load()).To(MatchError(errBoom))
			})
		})
	})

	Describe("persist and reload", func() {
		var (
			db       *localstate.BoltDB
			dbPath   string
			original []Voucher
		)

		BeforeEach(func() {
			dbPath = filepath.Join(GinkgoT().TempDir(), "state.db")
			var err error
			db, err = localstate.Open(dbPath)
			Expect(err).NotTo(HaveOccurred())

			wib := time.FixedZone("WIB", 7*3600)
			store = NewStore(db, remote)
			Expect(store.Add(newVoucher("1", time.Date(2024, 5, 6, 7, 8, 9, 123000000, wib)))).To(Succeed())
			Expect(store.Add(newVoucher("2", time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)))).To(Succeed())
			original = store.List()
			Expect(db.Close()).To(Succeed())
		})

		It("restores an equal collection with equivalent timestamps", func() {
			db, err := localstate.Open(dbPath)
			Expect(err).NotTo(HaveOccurred())
			defer db.Close()

			reloaded := NewStore(db, remote)
			Expect(reloaded.Load()).To(Succeed())

			list := reloaded.List()
			Expect(list).To(HaveLen(len(original)))
			for i := range original {
				Expect(list[i].ID).To(Equal(original[i].ID))
				Expect(list[i].Filename).To(Equal(original[i].Filename))
				Expect(list[i].Title).To(Equal(original[i].Title))
				Expect(list[i].ImageURL).To(Equal(original[i].ImageURL))
				Expect(list[i].OCRText).To(Equal(original[i].OCRText))
				Expect(list[i].UploadDate).To(BeTemporally("==", original[i].UploadDate))
			}
		})
	})
})
