package configuration

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/scusemua/notebook-step/common/jupyter/client"
	"github.com/scusemua/notebook-step/common/jupyter/gateway"
	"github.com/scusemua/notebook-step/common/jupyter/zmq"
	"github.com/scusemua/notebook-step/common/storage"
	"go.uber.org/zap"
)

const (
	TransportGateway = "gateway"
	TransportZMQ     = "zmq"

	DefaultGatewayAddress = "localhost:8888"
	DefaultKernelName     = "python3"
	DefaultLaunchTimeout  = 60
	DefaultMaxResultSize  = 64 * 1024
	DefaultOutputDir      = "notebook-step-output"
	DefaultJobName        = "notebook_step"
)

var (
	ErrInvalidOptions = errors.New("invalid options")
	ErrNoCode         = errors.New("one of -code or -file is required")
)

// StepOptions are the command-line options of a notebook build step.
type StepOptions struct {
	config.LoggerOptions `yaml:",inline" json:"logger_options"`

	GatewayAddress string `name:"gateway"          json:"gateway"          yaml:"gateway"          validate:"required"                       description:"Address of the Jupyter kernel gateway, e.g. localhost:8888 or https://jupyter.example.com."`
	KernelName     string `name:"kernel"           json:"kernel"           yaml:"kernel"           validate:"kernelname"                     description:"Name of the kernel to launch. Letters, digits and underscores only."`
	LaunchTimeout  int    `name:"launch-timeout"   json:"launch-timeout"   yaml:"launch-timeout"   validate:"gte=0"                          description:"Seconds to wait for the kernel to start. 0 waits indefinitely."`
	MaxResultSize  int    `name:"max-result"       json:"max-result"       yaml:"max-result"       validate:"gte=1"                          description:"Maximum size in bytes of a printed text result."`
	ExecuteTimeout int    `name:"execute-timeout"  json:"execute-timeout"  yaml:"execute-timeout"  validate:"gte=0"                          description:"Seconds to wait for a single cell. 0 waits indefinitely."`
	Transport      string `name:"transport"        json:"transport"        yaml:"transport"        validate:"oneof=gateway zmq"              description:"How to reach the kernel: 'gateway' (REST + websocket) or 'zmq' (connection file of a running kernel)."`
	ConnectionFile string `name:"connection-file"  json:"connection-file"  yaml:"connection-file"  validate:"required_if=Transport zmq"       description:"Kernel connection file. Required by the 'zmq' transport."`
	OwnKernel      bool   `name:"own-kernel"       json:"own-kernel"       yaml:"own-kernel"                                                 description:"Shut the kernel down when the step ends. Only used by the 'zmq' transport; gateway kernels are always shut down."`

	Storage         string `name:"storage"          json:"storage"          yaml:"storage"          validate:"oneof=local s3 redis hdfs"      description:"Where dumped HTML and images are written: 'local', 's3', 'redis' or 'hdfs'."`
	StorageEndpoint string `name:"storage-endpoint" json:"storage-endpoint" yaml:"storage-endpoint" validate:"required_if=Storage hdfs,required_if=Storage redis" description:"Redis server or HDFS NameNode (host:port), or a custom S3 endpoint. Required by the 'redis' and 'hdfs' storage."`
	S3Bucket        string `name:"s3-bucket"        json:"s3-bucket"        yaml:"s3-bucket"        validate:"required_if=Storage s3"         description:"Bucket that dumped results are written to."`
	RedisDatabase   int    `name:"redis-db"         json:"redis-db"         yaml:"redis-db"         validate:"gte=0"                          description:"Redis database number."`
	RedisPassword   string `name:"redis-password"   json:"-"                yaml:"redis-password"                                             description:"Redis password."`
	HdfsUsername    string `name:"hdfs-user"        json:"hdfs-user"        yaml:"hdfs-user"                                                  description:"User to act as on HDFS."`
	OutputDir       string `name:"output-dir"       json:"output-dir"       yaml:"output-dir"       validate:"required"                       description:"Folder that HTML and image results are dumped into."`

	Code         string `name:"code"          json:"code"          yaml:"code"          description:"Python code to run."`
	File         string `name:"file"          json:"file"          yaml:"file"          description:"A .py file or .ipynb notebook to run instead of -code."`
	ValidateOnly bool   `name:"validate-only" json:"validate-only" yaml:"validate-only" description:"Only check that a kernel can be started, then exit."`

	Pushgateway string `name:"pushgateway" json:"pushgateway" yaml:"pushgateway" description:"Prometheus Pushgateway to push step metrics to when the step ends."`
	JobName     string `name:"job-name"    json:"job-name"    yaml:"job-name"    description:"Job name used when pushing metrics."`

	PrettyPrintOptions bool `name:"pretty_print_options" json:"pretty_print_options" yaml:"pretty_print_options" description:"Print the options when the step starts."`
}

// NewStepOptions returns options populated with the defaults.
func NewStepOptions() *StepOptions {
	return &StepOptions{
		GatewayAddress: DefaultGatewayAddress,
		KernelName:     DefaultKernelName,
		LaunchTimeout:  DefaultLaunchTimeout,
		MaxResultSize:  DefaultMaxResultSize,
		Transport:      TransportGateway,
		Storage:        storage.Local,
		OutputDir:      DefaultOutputDir,
		JobName:        DefaultJobName,
	}
}

func newValidator() *validator.Validate {
	validate := validator.New()
	if err := validate.RegisterValidation("kernelname", func(fl validator.FieldLevel) bool {
		return client.KernelNamePattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return validate
}

// Validate checks the options. The returned error wraps ErrInvalidOptions.
func (opts *StepOptions) Validate() error {
	if err := newValidator().Struct(opts); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
		}

		reasons := make([]string, 0, len(fieldErrs))
		for _, fieldErr := range fieldErrs {
			reasons = append(reasons, fmt.Sprintf("%s failed \"%s\" (got \"%v\")", fieldErr.Field(), fieldErr.Tag(), fieldErr.Value()))
		}
		return fmt.Errorf("%w: %s", ErrInvalidOptions, strings.Join(reasons, "; "))
	}

	if !opts.ValidateOnly && opts.Code == "" && opts.File == "" {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, ErrNoCode)
	}

	return nil
}

// SessionConfig returns the session parameters described by the options.
func (opts *StepOptions) SessionConfig() client.SessionConfig {
	return client.SessionConfig{
		GatewayAddress: opts.GatewayAddress,
		LaunchTimeout:  time.Duration(opts.LaunchTimeout) * time.Second,
		MaxResultSize:  opts.MaxResultSize,
		KernelName:     opts.KernelName,
		ExecuteTimeout: time.Duration(opts.ExecuteTimeout) * time.Second,
	}
}

// TransportFactory returns the factory of the selected transport.
func (opts *StepOptions) TransportFactory() client.TransportFactory {
	if opts.Transport == TransportZMQ {
		return zmq.NewFactory(opts.ConnectionFile, zmq.WithOwnKernel(opts.OwnKernel))
	}
	return gateway.NewFactory()
}

// StorageOptions returns the options of the selected storage provider.
func (opts *StepOptions) StorageOptions(logger *zap.Logger) storage.Options {
	return storage.Options{
		Endpoint:      opts.StorageEndpoint,
		Bucket:        opts.S3Bucket,
		RedisDatabase: opts.RedisDatabase,
		RedisPassword: opts.RedisPassword,
		HdfsUsername:  opts.HdfsUsername,
		Logger:        logger,
	}
}

// PrettyString is the same as String, except that PrettyString calls json.MarshalIndent instead of json.Marshal.
func (opts *StepOptions) PrettyString(indentSize int) string {
	indentBuilder := strings.Builder{}
	for i := 0; i < indentSize; i++ {
		indentBuilder.WriteString(" ")
	}

	m, err := json.MarshalIndent(opts, "", indentBuilder.String())
	if err != nil {
		panic(err)
	}

	return string(m)
}

func (opts *StepOptions) Clone() *StepOptions {
	clone := *opts
	return &clone
}

func (opts *StepOptions) String() string {
	m, err := json.Marshal(opts)
	if err != nil {
		panic(err)
	}

	return string(m)
}
