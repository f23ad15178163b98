package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/akosyrev/chronicle/internal/versioning"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

// BatchActor is attributed to audit entries produced by file loads.
const BatchActor = "batch_loader"

// Service loads tabular or JSON files of entities through the upsert engine.
// Identity columns (uid, display name, kind) map onto the entity version;
// every other column becomes a detail with an upper-cased code and its raw
// cell wrapped as {"value": v}.
type Service struct {
	engine      *versioning.Engine
	defaultKind string
}

// NewService creates a new batch load service.
func NewService(engine *versioning.Engine, defaultKind string) *Service {
	return &Service{engine: engine, defaultKind: defaultKind}
}

// Request describes one file load.
type Request struct {
	FileName string
	KindCode string
	Actor    string
	ChangeAt *time.Time
	Data     io.Reader
}

// RowError reports one rejected row.
type RowError struct {
	RowNumber int    `json:"rowNumber"`
	Message   string `json:"message"`
}

// Summary returns load level metrics.
type Summary struct {
	TotalRows int        `json:"totalRows"`
	Loaded    int        `json:"loaded"`
	Failed    int        `json:"failed"`
	Errors    []RowError `json:"errors"`
}

// record is one parsed input row, independent of source format.
type record struct {
	rowNumber int
	fields    map[string]string
}

// Load parses the file and upserts every row. Row failures are collected in
// the summary rather than aborting the whole load; each row is its own
// transaction.
func (s *Service) Load(ctx context.Context, req Request) (Summary, error) {
	summary := Summary{Errors: []RowError{}}

	if req.Data == nil {
		return summary, errors.New("data reader is required")
	}
	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return summary, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return summary, errors.New("file is empty")
	}

	records, err := parseFile(req.FileName, payload)
	if err != nil {
		return summary, err
	}
	summary.TotalRows = len(records)

	actor := strings.TrimSpace(req.Actor)
	if actor == "" {
		actor = BatchActor
	}

	for _, rec := range records {
		upsert, err := s.toUpsert(rec, req)
		if err == nil {
			upsert.Actor = actor
			_, err = s.engine.UpsertEntity(ctx, upsert)
		}
		if err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, RowError{RowNumber: rec.rowNumber, Message: err.Error()})
			log.Printf("[ingestion] %s row %d rejected: %v", req.FileName, rec.rowNumber, err)
			continue
		}
		summary.Loaded++
	}

	log.Printf("[ingestion] %s: %d rows, %d loaded, %d failed", req.FileName, summary.TotalRows, summary.Loaded, summary.Failed)
	return summary, nil
}

func (s *Service) toUpsert(rec record, req Request) (versioning.UpsertEntityRequest, error) {
	upsert := versioning.UpsertEntityRequest{ChangeAt: req.ChangeAt}

	kind := strings.TrimSpace(req.KindCode)
	if kind == "" {
		kind = s.defaultKind
	}

	for name, raw := range rec.fields {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		switch normalizeColumn(name) {
		case "uid", "entity_uid", "id":
			uid, err := uuid.Parse(value)
			if err != nil {
				return versioning.UpsertEntityRequest{}, fmt.Errorf("invalid uid %q", value)
			}
			upsert.EntityID = uid
		case "display_name", "name":
			upsert.DisplayName = value
		case "kind", "entity_kind":
			kind = value
		default:
			upsert.Details = append(upsert.Details, versioning.DetailInput{
				Code:  strings.ToUpper(normalizeColumn(name)),
				Value: map[string]any{"value": value},
			})
		}
	}

	if upsert.EntityID == uuid.Nil {
		upsert.EntityID = uuid.New()
	}
	upsert.KindCode = strings.ToUpper(strings.TrimSpace(kind))
	return upsert, nil
}

func normalizeColumn(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, ".", "_")
	name = strings.ReplaceAll(name, "-", "_")
	return strings.Trim(name, "_")
}

func parseFile(fileName string, payload []byte) ([]record, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(payload)
	case ".json":
		return parseJSON(payload)
	case ".xlsx":
		return parseExcel(payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte) ([]record, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	rows, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return tableToRecords(rows)
}

func parseExcel(payload []byte) ([]record, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel file has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return tableToRecords(rows)
}

func parseJSON(payload []byte) ([]record, error) {
	var rows []map[string]any
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse json: expected an array of objects: %w", err)
	}

	records := make([]record, 0, len(rows))
	for idx, row := range rows {
		fields := make(map[string]string, len(row))
		for name, value := range row {
			fields[name] = stringifyJSONValue(value)
		}
		records = append(records, record{rowNumber: idx + 1, fields: fields})
	}
	return records, nil
}

func stringifyJSONValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", v), "0"), ".")
	case bool:
		return fmt.Sprintf("%v", v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}

func tableToRecords(rows [][]string) ([]record, error) {
	var headers []string
	var records []record
	headerIndex := -1

	for idx, row := range rows {
		if isEmptyRow(row) {
			continue
		}
		if headers == nil {
			headers = make([]string, len(row))
			for i, cell := range row {
				headers[i] = strings.TrimSpace(cell)
			}
			headerIndex = idx
			continue
		}
		fields := make(map[string]string, len(headers))
		for i, header := range headers {
			if header == "" || i >= len(row) {
				continue
			}
			fields[header] = strings.TrimSpace(row[i])
		}
		// 1-based row number counting the header row.
		records = append(records, record{rowNumber: idx - headerIndex + 1, fields: fields})
	}

	if headers == nil {
		return nil, errors.New("no header row detected")
	}
	return records, nil
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
