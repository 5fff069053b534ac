package configuration_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/scusemua/notebook-step/common/configuration"
	"github.com/scusemua/notebook-step/common/storage"
)

var _ = Describe("StepOptions", func() {
	var opts *configuration.StepOptions

	BeforeEach(func() {
		opts = configuration.NewStepOptions()
		opts.Code = "32+6"
	})

	It("Will accept the defaults", func() {
		Expect(opts.Validate()).To(Succeed())
	})

	It("Will reject invalid kernel names", func() {
		for _, name := range []string{"", "python-3", "py thon", "python3;rm"} {
			opts.KernelName = name
			err := opts.Validate()
			Expect(err).To(MatchError(configuration.ErrInvalidOptions), "kernel name %q", name)
			Expect(err).To(MatchError(ContainSubstring("KernelName")))
		}

		opts.KernelName = "ir_kernel_4"
		Expect(opts.Validate()).To(Succeed())
	})

	It("Will reject out-of-range numbers", func() {
		opts.MaxResultSize = 0
		Expect(opts.Validate()).To(MatchError(ContainSubstring("MaxResultSize")))

		opts.MaxResultSize = 1
		opts.LaunchTimeout = -1
		Expect(opts.Validate()).To(MatchError(ContainSubstring("LaunchTimeout")))

		opts.LaunchTimeout = 0
		opts.ExecuteTimeout = -5
		Expect(opts.Validate()).To(MatchError(ContainSubstring("ExecuteTimeout")))
	})

	It("Will require a connection file for the zmq transport", func() {
		opts.Transport = configuration.TransportZMQ
		Expect(opts.Validate()).To(MatchError(ContainSubstring("ConnectionFile")))

		opts.ConnectionFile = "kernel-1234.json"
		Expect(opts.Validate()).To(Succeed())

		opts.Transport = "ssh"
		Expect(opts.Validate()).To(MatchError(ContainSubstring("Transport")))
	})

	It("Will require the settings of remote storage", func() {
		opts.Storage = storage.S3
		Expect(opts.Validate()).To(MatchError(ContainSubstring("S3Bucket")))
		opts.S3Bucket = "results"
		Expect(opts.Validate()).To(Succeed())

		opts.Storage = storage.HDFS
		Expect(opts.Validate()).To(MatchError(ContainSubstring("StorageEndpoint")))
		opts.StorageEndpoint = "namenode:9000"
		Expect(opts.Validate()).To(Succeed())

		opts.Storage = storage.Redis
		opts.StorageEndpoint = ""
		Expect(opts.Validate()).To(MatchError(ContainSubstring("StorageEndpoint")))
		opts.StorageEndpoint = "redis:6379"
		Expect(opts.Validate()).To(Succeed())

		opts.Storage = storage.S3
		opts.StorageEndpoint = ""
		Expect(opts.Validate()).To(Succeed())

		opts.Storage = "ftp"
		Expect(opts.Validate()).To(MatchError(ContainSubstring("Storage")))
	})

	It("Will require code unless only validating", func() {
		opts.Code = ""
		Expect(opts.Validate()).To(MatchError(configuration.ErrNoCode))

		opts.ValidateOnly = true
		Expect(opts.Validate()).To(Succeed())

		opts.ValidateOnly = false
		opts.File = "analysis.ipynb"
		Expect(opts.Validate()).To(Succeed())
	})

	It("Will convert to a session config", func() {
		opts.LaunchTimeout = 30
		opts.ExecuteTimeout = 5
		opts.MaxResultSize = 100

		cfg := opts.SessionConfig()
		Expect(cfg.GatewayAddress).To(Equal(configuration.DefaultGatewayAddress))
		Expect(cfg.KernelName).To(Equal(configuration.DefaultKernelName))
		Expect(cfg.LaunchTimeout).To(Equal(30 * time.Second))
		Expect(cfg.ExecuteTimeout).To(Equal(5 * time.Second))
		Expect(cfg.MaxResultSize).To(Equal(100))
		Expect(cfg.Validate()).To(Succeed())
	})

	It("Will build a transport factory for either transport", func() {
		Expect(opts.TransportFactory()).ToNot(BeNil())

		opts.Transport = configuration.TransportZMQ
		opts.ConnectionFile = "does-not-exist.json"
		factory := opts.TransportFactory()
		Expect(factory).ToNot(BeNil())

		_, err := factory(opts.SessionConfig())
		Expect(err).ToNot(BeNil())
	})

	It("Will build storage options", func() {
		opts.StorageEndpoint = "redis:6379"
		opts.RedisDatabase = 2
		opts.RedisPassword = "secret"

		storageOpts := opts.StorageOptions(nil)
		Expect(storageOpts.Endpoint).To(Equal("redis:6379"))
		Expect(storageOpts.RedisDatabase).To(Equal(2))
		Expect(storageOpts.RedisPassword).To(Equal("secret"))
	})

	It("Will not print the Redis password", func() {
		opts.RedisPassword = "secret"
		Expect(opts.String()).To(ContainSubstring("\"gateway\":\"localhost:8888\""))
		Expect(opts.String()).ToNot(ContainSubstring("secret"))
		Expect(opts.PrettyString(2)).ToNot(ContainSubstring("secret"))

		clone := opts.Clone()
		clone.KernelName = "other"
		Expect(opts.KernelName).To(Equal(configuration.DefaultKernelName))
	})
})
