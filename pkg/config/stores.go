package config

import (
	"fmt"
	"time"
)

// VectorProvider identifies the vector store type.
type VectorProvider string

const (
	VectorProviderChromem  VectorProvider = "chromem"
	VectorProviderQdrant   VectorProvider = "qdrant"
	VectorProviderPinecone VectorProvider = "pinecone"
)

// VectorConfig configures the vector store.
type VectorConfig struct {
	// Provider type: "chromem" (embedded), "qdrant", "pinecone".
	Provider VectorProvider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,enum=chromem,enum=qdrant,enum=pinecone,default=chromem"`

	// Collection is the collection/index namespace for chunks.
	Collection string `yaml:"collection,omitempty" json:"collection,omitempty" jsonschema:"title=Collection,default=magpie-chunks"`

	// Host for qdrant.
	Host string `yaml:"host,omitempty" json:"host,omitempty" jsonschema:"title=Host"`

	// Port for qdrant.
	Port int `yaml:"port,omitempty" json:"port,omitempty" jsonschema:"title=Port,default=6334"`

	// APIKey for authenticated access (qdrant cloud, pinecone).
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key"`

	// UseTLS enables TLS for qdrant connections.
	UseTLS bool `yaml:"use_tls,omitempty" json:"use_tls,omitempty" jsonschema:"title=Use TLS,default=false"`

	// PersistPath for chromem file persistence. Empty keeps the store
	// purely in memory.
	PersistPath string `yaml:"persist_path,omitempty" json:"persist_path,omitempty" jsonschema:"title=Persist Path"`

	// IndexHost for pinecone serverless indexes.
	IndexHost string `yaml:"index_host,omitempty" json:"index_host,omitempty" jsonschema:"title=Index Host"`

	// Timeout bounds store calls.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,default=30s"`
}

// SetDefaults applies default values.
func (c *VectorConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = VectorProviderChromem
	}
	if c.Collection == "" {
		c.Collection = "magpie-chunks"
	}
	if c.Port == 0 && c.Provider == VectorProviderQdrant {
		c.Port = 6334
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Validate checks the vector store configuration.
func (c *VectorConfig) Validate() error {
	switch c.Provider {
	case VectorProviderChromem:
	case VectorProviderQdrant:
		if c.Host == "" {
			return fmt.Errorf("host is required for qdrant")
		}
	case VectorProviderPinecone:
		if c.APIKey == "" {
			return fmt.Errorf("api_key is required for pinecone")
		}
	default:
		return fmt.Errorf("invalid vector provider %q (valid: chromem, qdrant, pinecone)", c.Provider)
	}
	return nil
}

// DefaultStateTTL is the minimum lifetime of a section job record.
const DefaultStateTTL = time.Hour

// StateBackend identifies the section-state store type.
type StateBackend string

const (
	StateBackendMemory StateBackend = "memory"
	StateBackendRedis  StateBackend = "redis"
	StateBackendEtcd   StateBackend = "etcd"
)

// StateConfig configures the durable section job state store.
type StateConfig struct {
	// Backend type: "memory" (single process), "redis", "etcd".
	Backend StateBackend `yaml:"backend,omitempty" json:"backend,omitempty" jsonschema:"title=Backend,enum=memory,enum=redis,enum=etcd,default=memory"`

	// Addr is the redis address or comma-separated etcd endpoints.
	Addr string `yaml:"addr,omitempty" json:"addr,omitempty" jsonschema:"title=Address"`

	// Password for redis.
	Password string `yaml:"password,omitempty" json:"password,omitempty" jsonschema:"title=Password"`

	// DB selects the redis logical database.
	DB int `yaml:"db,omitempty" json:"db,omitempty" jsonschema:"title=DB,default=0"`

	// TTL is the job record lifetime.
	TTL time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty" jsonschema:"title=TTL,default=1h"`
}

// SetDefaults applies default values.
func (c *StateConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = StateBackendMemory
	}
	if c.Addr == "" {
		switch c.Backend {
		case StateBackendRedis:
			c.Addr = "localhost:6379"
		case StateBackendEtcd:
			c.Addr = "localhost:2379"
		}
	}
	if c.TTL == 0 {
		c.TTL = DefaultStateTTL
	}
}

// Validate checks the state store configuration.
func (c *StateConfig) Validate() error {
	switch c.Backend {
	case StateBackendMemory, StateBackendRedis, StateBackendEtcd:
	default:
		return fmt.Errorf("invalid state backend %q (valid: memory, redis, etcd)", c.Backend)
	}
	if c.TTL < time.Hour {
		return fmt.Errorf("ttl must be at least 1h, got %s", c.TTL)
	}
	return nil
}

// StorageConfig configures the relational file store.
type StorageConfig struct {
	// Driver is the database/sql driver: "sqlite3", "postgres", "mysql".
	Driver string `yaml:"driver,omitempty" json:"driver,omitempty" jsonschema:"title=Driver,enum=sqlite3,enum=postgres,enum=mysql,default=sqlite3"`

	// DSN is the driver-specific connection string.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty" jsonschema:"title=DSN"`
}

// SetDefaults applies default values.
func (c *StorageConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite3"
	}
	if c.DSN == "" && c.Driver == "sqlite3" {
		c.DSN = "magpie.db"
	}
}

// Validate checks the storage configuration.
func (c *StorageConfig) Validate() error {
	switch c.Driver {
	case "sqlite3", "postgres", "mysql":
	default:
		return fmt.Errorf("invalid storage driver %q (valid: sqlite3, postgres, mysql)", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("dsn is required for driver %q", c.Driver)
	}
	return nil
}

// BlobBackend identifies the blob store type.
type BlobBackend string

const (
	BlobBackendFilesystem BlobBackend = "filesystem"
	BlobBackendS3         BlobBackend = "s3"
)

// BlobConfig configures the original-bytes store.
type BlobConfig struct {
	// Backend type: "filesystem", "s3".
	Backend BlobBackend `yaml:"backend,omitempty" json:"backend,omitempty" jsonschema:"title=Backend,enum=filesystem,enum=s3,default=filesystem"`

	// Dir is the root directory for the filesystem backend.
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty" jsonschema:"title=Directory,default=.magpie/blobs"`

	// Bucket for s3.
	Bucket string `yaml:"bucket,omitempty" json:"bucket,omitempty" jsonschema:"title=Bucket"`

	// Region for s3.
	Region string `yaml:"region,omitempty" json:"region,omitempty" jsonschema:"title=Region"`

	// Endpoint overrides the s3 endpoint (minio and friends).
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" jsonschema:"title=Endpoint"`

	// AccessKeyID and SecretAccessKey override the ambient AWS
	// credential chain when both are set.
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty" jsonschema:"title=Access Key ID"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty" jsonschema:"title=Secret Access Key"`
}

// SetDefaults applies default values.
func (c *BlobConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = BlobBackendFilesystem
	}
	if c.Dir == "" && c.Backend == BlobBackendFilesystem {
		c.Dir = ".magpie/blobs"
	}
}

// Validate checks the blob store configuration.
func (c *BlobConfig) Validate() error {
	switch c.Backend {
	case BlobBackendFilesystem:
	case BlobBackendS3:
		if c.Bucket == "" {
			return fmt.Errorf("bucket is required for s3")
		}
	default:
		return fmt.Errorf("invalid blob backend %q (valid: filesystem, s3)", c.Backend)
	}
	return nil
}
