package storage_test

import (
	"context"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/scusemua/notebook-step/common/storage"
	"go.uber.org/zap"
)

var _ = Describe("RedisProvider", func() {
	var (
		mr       *miniredis.Miniredis
		provider *storage.RedisProvider
		ctx      context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		mr = miniredis.RunT(GinkgoT())
		provider = storage.NewRedisProvider(mr.Addr(), zap.NewNop())
	})

	AfterEach(func() {
		Expect(provider.Close()).To(Succeed())
	})

	Context("Connected", func() {
		BeforeEach(func() {
			Expect(provider.Connect(ctx)).To(Succeed())
			Expect(provider.ConnectionStatus()).To(Equal(storage.Connected))
		})

		It("Will create every directory on the path", func() {
			Expect(provider.MkdirAll(ctx, "results/run-1")).To(Succeed())

			Expect(mr.Exists("__dir__/")).To(BeTrue())
			Expect(mr.Exists("__dir__/results")).To(BeTrue())
			Expect(mr.Exists("__dir__/results/run-1")).To(BeTrue())

			isMember, err := mr.IsMember("__dir__/results", "run-1")
			Expect(err).To(BeNil())
			Expect(isMember).To(BeTrue())

			isMember, err = mr.IsMember("__dir__/", "results")
			Expect(err).To(BeNil())
			Expect(isMember).To(BeTrue())

			names, err := provider.ListDir(ctx, "/results/run-1")
			Expect(err).To(BeNil())
			Expect(names).To(BeEmpty())
		})

		It("Will write, read and list files", func() {
			Expect(provider.MkdirAll(ctx, "/results")).To(Succeed())
			Expect(provider.WriteFile(ctx, "/results/2.html", []byte("<p>2</p>"))).To(Succeed())
			Expect(provider.WriteFile(ctx, "/results/1.png", []byte{0x89, 'P', 'N', 'G'})).To(Succeed())
			Expect(provider.MkdirAll(ctx, "/results/sub")).To(Succeed())

			value, err := mr.Get("__file__/results/2.html")
			Expect(err).To(BeNil())
			Expect(value).To(Equal("<p>2</p>"))

			data, err := provider.ReadFile(ctx, "results/1.png")
			Expect(err).To(BeNil())
			Expect(data).To(Equal([]byte{0x89, 'P', 'N', 'G'}))

			names, err := provider.ListDir(ctx, "/results")
			Expect(err).To(BeNil())
			Expect(names).To(Equal([]string{"1.png", "2.html"}))
		})

		It("Will not overwrite a file", func() {
			Expect(provider.MkdirAll(ctx, "/results")).To(Succeed())
			Expect(provider.WriteFile(ctx, "/results/a.html", []byte("first"))).To(Succeed())

			err := provider.WriteFile(ctx, "/results/a.html", []byte("second"))
			Expect(err).To(MatchError(storage.ErrExist))

			data, err := provider.ReadFile(ctx, "/results/a.html")
			Expect(err).To(BeNil())
			Expect(string(data)).To(Equal("first"))
		})

		It("Will not write into a missing directory", func() {
			err := provider.WriteFile(ctx, "/missing/a.html", []byte("a"))
			Expect(err).To(MatchError(storage.ErrNotExist))
			Expect(mr.Exists("__file__/missing/a.html")).To(BeFalse())

			_, err = provider.ReadFile(ctx, "/missing/a.html")
			Expect(err).To(MatchError(storage.ErrNotExist))

			_, err = provider.ListDir(ctx, "/missing")
			Expect(err).To(MatchError(storage.ErrNotExist))
		})
	})

	It("Will use the configured database", func() {
		provider.SetDatabase(3)
		Expect(provider.Connect(ctx)).To(Succeed())

		Expect(provider.MkdirAll(ctx, "/results")).To(Succeed())
		Expect(provider.WriteFile(ctx, "/results/a.html", []byte("a"))).To(Succeed())

		Expect(mr.DB(3).Exists("__file__/results/a.html")).To(BeTrue())
		Expect(mr.DB(0).Exists("__file__/results/a.html")).To(BeFalse())
	})

	It("Will authenticate with the configured password", func() {
		mr.RequireAuth("hunter2")

		Expect(provider.Connect(ctx)).ToNot(Succeed())
		Expect(provider.ConnectionStatus()).To(Equal(storage.Disconnected))
		Expect(provider.Close()).To(Succeed())

		provider.SetRedisPassword("hunter2")
		Expect(provider.Connect(ctx)).To(Succeed())
		Expect(provider.ConnectionStatus()).To(Equal(storage.Connected))
	})
})
