package config

import (
	"fmt"
	"time"
)

// Pipeline defaults. Each is overridable by config file or the
// environment variable of the same name.
const (
	DefaultParseMaxTokens         = 1024
	DefaultParseOverlapTokens     = 128
	DefaultTokenizerEncoding      = "cl100k_base"
	DefaultTableMaxTokensPerChunk = 7000
	DefaultTableEmptyRowThreshold = 100
	DefaultTableMaxRowsToScan     = 100000
	DefaultTopKPerQuery           = 50
	DefaultRetrievalTimeout       = 300 * time.Second
	DefaultContextMaxTokens       = 75000
	DefaultNumberMatchBoost       = 0.30
	DefaultFileConcurrency        = 10
	DefaultSectionConcurrency     = 10
	DefaultSectionTimeout         = 5 * time.Minute
	DefaultFileTimeout            = 10 * time.Minute
	DefaultIndexBatchSize         = 40
)

// PipelineConfig carries the token budgets, batch sizes and
// concurrency limits shared by the parse/index/section pipelines.
type PipelineConfig struct {
	// ParseMaxTokens is the budget for one text chunk.
	ParseMaxTokens int `yaml:"parse_max_tokens,omitempty" json:"parse_max_tokens,omitempty" jsonschema:"title=Parse Max Tokens,default=1024"`

	// ParseOverlapTokens is the minimum token overlap between
	// consecutive text chunks of the same file.
	ParseOverlapTokens int `yaml:"parse_overlap_tokens,omitempty" json:"parse_overlap_tokens,omitempty" jsonschema:"title=Parse Overlap Tokens,default=128"`

	// TokenizerEncoding names the BPE encoding used for every budget.
	TokenizerEncoding string `yaml:"tokenizer_encoding,omitempty" json:"tokenizer_encoding,omitempty" jsonschema:"title=Tokenizer Encoding,default=cl100k_base"`

	// TableMaxTokensPerChunk is the budget for one sheet chunk before
	// truncation.
	TableMaxTokensPerChunk int `yaml:"table_max_tokens_per_chunk,omitempty" json:"table_max_tokens_per_chunk,omitempty" jsonschema:"title=Table Max Tokens Per Chunk,default=7000"`

	// TableEmptyRowThreshold stops the sheet scan after this many
	// consecutive empty rows.
	TableEmptyRowThreshold int `yaml:"table_empty_row_threshold,omitempty" json:"table_empty_row_threshold,omitempty" jsonschema:"title=Table Empty Row Threshold,default=100"`

	// TableMaxRowsToScan caps rows read per sheet.
	TableMaxRowsToScan int `yaml:"table_max_rows_to_scan,omitempty" json:"table_max_rows_to_scan,omitempty" jsonschema:"title=Table Max Rows To Scan,default=100000"`

	// TopKPerQuery is the match count requested per search query.
	TopKPerQuery int `yaml:"top_k_per_query,omitempty" json:"top_k_per_query,omitempty" jsonschema:"title=Top K Per Query,default=50"`

	// RetrievalTimeout bounds the plan+search+generate span of a
	// section run.
	RetrievalTimeout time.Duration `yaml:"retrieval_timeout,omitempty" json:"retrieval_timeout,omitempty" jsonschema:"title=Retrieval Timeout,default=300s"`

	// ContextMaxTokens is the hard budget for the generation context.
	ContextMaxTokens int `yaml:"context_max_tokens,omitempty" json:"context_max_tokens,omitempty" jsonschema:"title=Context Max Tokens,default=75000"`

	// NumberMatchBoost is added to a citation score per matched number.
	NumberMatchBoost float64 `yaml:"number_match_boost,omitempty" json:"number_match_boost,omitempty" jsonschema:"title=Number Match Boost,default=0.30"`

	// FileConcurrency bounds concurrent file-processing jobs.
	FileConcurrency int `yaml:"file_concurrency,omitempty" json:"file_concurrency,omitempty" jsonschema:"title=File Concurrency,default=10"`

	// SectionConcurrency bounds concurrent section runs.
	SectionConcurrency int `yaml:"section_concurrency,omitempty" json:"section_concurrency,omitempty" jsonschema:"title=Section Concurrency,default=10"`

	// SectionTimeout is the wall clock limit for one section run.
	SectionTimeout time.Duration `yaml:"section_timeout,omitempty" json:"section_timeout,omitempty" jsonschema:"title=Section Timeout,default=5m"`

	// FileTimeout is the wall clock limit for one file-processing job.
	FileTimeout time.Duration `yaml:"file_timeout,omitempty" json:"file_timeout,omitempty" jsonschema:"title=File Timeout,default=10m"`

	// IndexBatchSize is the chunk count per vector-store upsert batch.
	IndexBatchSize int `yaml:"index_batch_size,omitempty" json:"index_batch_size,omitempty" jsonschema:"title=Index Batch Size,default=40"`
}

// SetDefaults applies defaults, consulting the environment first so
// deployments can tune budgets without a config file.
func (c *PipelineConfig) SetDefaults() {
	if c.ParseMaxTokens == 0 {
		c.ParseMaxTokens = envInt("PARSE_MAX_TOKENS", DefaultParseMaxTokens)
	}
	if c.ParseOverlapTokens == 0 {
		c.ParseOverlapTokens = envInt("PARSE_OVERLAP_TOKENS", DefaultParseOverlapTokens)
	}
	if c.TokenizerEncoding == "" {
		c.TokenizerEncoding = envString("PARSE_TOKENIZER_ENCODING", DefaultTokenizerEncoding)
	}
	if c.TableMaxTokensPerChunk == 0 {
		c.TableMaxTokensPerChunk = envInt("TABLE_MAX_TOKENS_PER_CHUNK", DefaultTableMaxTokensPerChunk)
	}
	if c.TableEmptyRowThreshold == 0 {
		c.TableEmptyRowThreshold = envInt("TABLE_EMPTY_ROW_THRESHOLD", DefaultTableEmptyRowThreshold)
	}
	if c.TableMaxRowsToScan == 0 {
		c.TableMaxRowsToScan = envInt("TABLE_MAX_ROWS_TO_SCAN", DefaultTableMaxRowsToScan)
	}
	if c.TopKPerQuery == 0 {
		c.TopKPerQuery = envInt("RETRIEVAL_TOP_K_PER_QUERY", DefaultTopKPerQuery)
	}
	if c.RetrievalTimeout == 0 {
		c.RetrievalTimeout = envSeconds("RETRIEVAL_TIMEOUT_SECONDS", DefaultRetrievalTimeout)
	}
	if c.ContextMaxTokens == 0 {
		c.ContextMaxTokens = envInt("CONTEXT_MAX_TOKENS", DefaultContextMaxTokens)
	}
	if c.NumberMatchBoost == 0 {
		c.NumberMatchBoost = envFloat("NUMBER_MATCH_BOOST", DefaultNumberMatchBoost)
	}
	if c.FileConcurrency == 0 {
		c.FileConcurrency = envInt("FILE_PROCESSING_CONCURRENCY", DefaultFileConcurrency)
	}
	if c.SectionConcurrency == 0 {
		c.SectionConcurrency = envInt("SECTION_PROCESSING_CONCURRENCY", DefaultSectionConcurrency)
	}
	if c.SectionTimeout == 0 {
		c.SectionTimeout = DefaultSectionTimeout
	}
	if c.FileTimeout == 0 {
		c.FileTimeout = DefaultFileTimeout
	}
	if c.IndexBatchSize == 0 {
		c.IndexBatchSize = envInt("INDEX_BATCH_SIZE", DefaultIndexBatchSize)
	}
}

// Validate checks budget sanity.
func (c *PipelineConfig) Validate() error {
	if c.ParseMaxTokens <= 0 {
		return fmt.Errorf("parse_max_tokens must be positive, got %d", c.ParseMaxTokens)
	}
	if c.ParseOverlapTokens < 0 {
		return fmt.Errorf("parse_overlap_tokens must be non-negative, got %d", c.ParseOverlapTokens)
	}
	if c.ParseOverlapTokens >= c.ParseMaxTokens {
		return fmt.Errorf("parse_overlap_tokens (%d) must be smaller than parse_max_tokens (%d)",
			c.ParseOverlapTokens, c.ParseMaxTokens)
	}
	if c.TableMaxTokensPerChunk <= 0 {
		return fmt.Errorf("table_max_tokens_per_chunk must be positive, got %d", c.TableMaxTokensPerChunk)
	}
	if c.ContextMaxTokens <= 0 {
		return fmt.Errorf("context_max_tokens must be positive, got %d", c.ContextMaxTokens)
	}
	if c.NumberMatchBoost < 0 || c.NumberMatchBoost > 1 {
		return fmt.Errorf("number_match_boost must be in [0,1], got %g", c.NumberMatchBoost)
	}
	if c.FileConcurrency <= 0 || c.SectionConcurrency <= 0 {
		return fmt.Errorf("concurrency limits must be positive")
	}
	if c.IndexBatchSize <= 0 {
		return fmt.Errorf("index_batch_size must be positive, got %d", c.IndexBatchSize)
	}
	return nil
}
