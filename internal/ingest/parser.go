package ingest

import (
	"encoding/csv"
	"regexp"
	"strings"

	"storemon/internal/normalize"
)

var (
	reTimestamp = regexp.MustCompile(`([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.]+(?:Z|[+-][0-9:]+| UTC)?)`)
	reKV        = regexp.MustCompile(`(?i)([a-zA-Z_]+)=([^\s]+)`)
)

// Parser turns one stream line (JSON object, CSV row or key=value text)
// into observation fields. A CSV header line sets the column order for the
// rows that follow and yields nil.
type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

func (p *Parser) ParseLine(line string) (*normalize.ObservationFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		if fields, err := ParseJSONBytes([]byte(trim)); err == nil {
			fields.Raw = line
			return fields, nil
		}
	}
	if strings.Contains(trim, ",") {
		fields, err := p.csv.Parse(trim)
		if err == nil {
			if fields == nil {
				return nil, nil
			}
			fields.Raw = line
			return fields, nil
		}
	}
	fields := parsePlain(trim)
	fields.Raw = line
	return fields, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

// parsePlain reads "store_id=1 status=active" pairs; the timestamp may be
// a pair or appear anywhere in the line.
func parsePlain(line string) *normalize.ObservationFields {
	kv := map[string]string{}
	for _, match := range reKV.FindAllStringSubmatch(line, -1) {
		kv[strings.ToLower(match[1])] = match[2]
	}
	fields := &normalize.ObservationFields{
		StoreID:   firstNonEmpty(kv, storeKeys...),
		Status:    firstNonEmpty(kv, statusKeys...),
		Timestamp: firstNonEmpty(kv, timestampKeys...),
	}
	if m := reTimestamp.FindStringSubmatch(line); len(m) > 1 {
		fields.Timestamp = strings.TrimSpace(m[1])
	}
	return fields
}

var (
	storeKeys     = []string{"store_id", "store", "storeid"}
	statusKeys    = []string{"status", "state"}
	timestampKeys = []string{"timestamp_utc", "timestamp", "ts", "time"}
)

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

type CSVParser struct {
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

// Parse reads one CSV row. Without a header, columns are taken in
// store_status.csv order: store_id, status, timestamp_utc.
func (p *CSVParser) Parse(line string) (*normalize.ObservationFields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	if looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		return nil, nil
	}
	fields := &normalize.ObservationFields{}
	if p.header != nil {
		for i, name := range p.header {
			if i >= len(record) {
				break
			}
			assignField(fields, name, record[i])
		}
		return fields, nil
	}
	order := []string{"store_id", "status", "timestamp_utc"}
	for i, name := range order {
		if i < len(record) {
			assignField(fields, name, record[i])
		}
	}
	return fields, nil
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "store_id", "status", "timestamp_utc", "timestamp":
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func assignField(fields *normalize.ObservationFields, name string, value string) {
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "store_id", "store", "storeid":
		fields.StoreID = value
	case "status", "state":
		fields.Status = value
	case "timestamp_utc", "timestamp", "ts", "time":
		fields.Timestamp = value
	}
}
