package index

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/magpielabs/magpie/pkg/document"
	"github.com/magpielabs/magpie/pkg/fault"
	"github.com/magpielabs/magpie/pkg/vector"
)

// Payload keys beyond the filter keys the store itself interprets.
// Values must survive backends that store metadata as strings, so the
// unit list travels as a JSON string and numbers are decoded weakly.
const (
	payloadFileName    = "file_name"
	payloadChunkIndex  = "chunk_index"
	payloadTokens      = "tokens"
	payloadUnits       = "units"
	payloadSheet       = "sheet"
	payloadTruncated   = "truncated"
	payloadCompany     = "company"
	payloadTicker      = "ticker"
	payloadDocType     = "doc_type"
	payloadPeriodLabel = "period_label"
	payloadBlurb       = "blurb"
)

// PointID is the composite primary key of a stored chunk. Re-indexing
// a file yields the same ids, so upserts replace rather than grow.
func PointID(fileID string, chunkIndex int) string {
	return fmt.Sprintf("%s_%d", fileID, chunkIndex)
}

// Record is one retrievable chunk as reconstructed from a vector
// store payload.
type Record struct {
	ID         string
	File       document.File
	Namespace  string
	ChunkIndex int
	Tokens     int
	Units      []document.Unit
	Meta       document.Meta

	// Sheet and Truncated are set for table chunks only.
	Sheet     string
	Truncated bool
}

// IsTable reports whether the record came from a spreadsheet chunk.
func (r Record) IsTable() bool {
	return r.Sheet != ""
}

// encodePayload renders one chunk into the stored payload form.
// Empty metadata fields are omitted rather than written blank.
func encodePayload(file document.File, meta document.Meta, chunk document.Chunk, chunkIndex int, namespace string) (map[string]any, error) {
	unitsJSON, err := json.Marshal(chunk.Units)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "index", err)
	}

	payload := map[string]any{
		vector.PayloadID:        PointID(file.ID, chunkIndex),
		vector.PayloadFileID:    file.ID,
		vector.PayloadNamespace: namespace,
		payloadFileName:         file.Name,
		payloadChunkIndex:       chunkIndex,
		payloadTokens:           chunk.Tokens,
		payloadUnits:            string(unitsJSON),
	}

	if chunk.Slice != nil {
		payload[payloadSheet] = chunk.Slice.Sheet
		payload[payloadTruncated] = chunk.Slice.Truncated
	}

	setIfPresent := func(key, value string) {
		if value != "" {
			payload[key] = value
		}
	}
	setIfPresent(payloadCompany, meta.Company)
	setIfPresent(payloadTicker, meta.Ticker)
	setIfPresent(payloadDocType, meta.DocType)
	setIfPresent(payloadPeriodLabel, meta.PeriodLabel)
	setIfPresent(payloadBlurb, meta.Blurb)

	return payload, nil
}

// rawRecord is the mapstructure target for a payload. Weak decoding
// absorbs the per-backend representations: chromem returns strings,
// qdrant int64s, pinecone float64s.
type rawRecord struct {
	ID          string `mapstructure:"_id"`
	FileID      string `mapstructure:"file_id"`
	FileName    string `mapstructure:"file_name"`
	Namespace   string `mapstructure:"namespace"`
	ChunkIndex  int    `mapstructure:"chunk_index"`
	Tokens      int    `mapstructure:"tokens"`
	Units       string `mapstructure:"units"`
	Sheet       string `mapstructure:"sheet"`
	Truncated   bool   `mapstructure:"truncated"`
	Company     string `mapstructure:"company"`
	Ticker      string `mapstructure:"ticker"`
	DocType     string `mapstructure:"doc_type"`
	PeriodLabel string `mapstructure:"period_label"`
	Blurb       string `mapstructure:"blurb"`
}

// DecodeRecord rebuilds a Record from a search payload.
func DecodeRecord(payload map[string]any) (Record, error) {
	var raw rawRecord
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &raw,
	})
	if err != nil {
		return Record{}, fault.Wrap(fault.KindInternal, "index", err)
	}
	if err := decoder.Decode(payload); err != nil {
		return Record{}, fault.Wrap(fault.KindRetrieval, "index", err)
	}

	var units []document.Unit
	if raw.Units != "" {
		if err := json.Unmarshal([]byte(raw.Units), &units); err != nil {
			return Record{}, fault.Wrapf(fault.KindRetrieval, "index", err, "stored units for %q are unreadable", raw.ID)
		}
	}

	return Record{
		ID:         raw.ID,
		File:       document.File{ID: raw.FileID, Name: raw.FileName},
		Namespace:  raw.Namespace,
		ChunkIndex: raw.ChunkIndex,
		Tokens:     raw.Tokens,
		Units:      units,
		Meta: document.Meta{
			Company:     raw.Company,
			Ticker:      raw.Ticker,
			DocType:     raw.DocType,
			PeriodLabel: raw.PeriodLabel,
			Blurb:       raw.Blurb,
		},
		Sheet:     raw.Sheet,
		Truncated: raw.Truncated,
	}, nil
}
