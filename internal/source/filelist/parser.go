package filelist

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// entry is one malware-list record: an exact (hostname, port, path) triple.
type entry struct {
	hostname string
	port     int
	path     string
}

// parser extracts malware URL entries from one list format.
type parser interface {
	parse(r io.Reader) (map[entry]struct{}, error)
}

// csvParser parses header-addressed CSV with hostname, port, and path
// columns. Rows without a hostname are skipped; a bad port defaults to 80.
type csvParser struct{}

func (csvParser) parse(r io.Reader) (map[entry]struct{}, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return map[entry]struct{}{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}

	urls := make(map[entry]struct{})
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		e := recordEntry(func(col string) string {
			idx, ok := cols[col]
			if !ok || idx >= len(record) {
				return ""
			}
			return record[idx]
		})
		if e.hostname != "" {
			urls[e] = struct{}{}
		}
	}
	return urls, nil
}

// jsonParser parses either a top-level array of records or an object whose
// records live under a common key (urls, malware_urls, entries, data).
type jsonParser struct{}

func (jsonParser) parse(r io.Reader) (map[entry]struct{}, error) {
	var raw any
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	var records []any
	switch v := raw.(type) {
	case []any:
		records = v
	case map[string]any:
		for _, key := range []string{"urls", "malware_urls", "entries", "data"} {
			if list, ok := v[key].([]any); ok {
				records = list
				break
			}
		}
	}

	urls := make(map[entry]struct{})
	for _, rec := range records {
		obj, ok := rec.(map[string]any)
		if !ok {
			continue
		}
		e := recordEntry(func(col string) string {
			switch v := obj[col].(type) {
			case string:
				return v
			case float64:
				return strconv.Itoa(int(v))
			default:
				return ""
			}
		})
		if e.hostname != "" {
			urls[e] = struct{}{}
		}
	}
	return urls, nil
}

// recordEntry normalizes one record's fields into an entry.
func recordEntry(field func(string) string) entry {
	hostname := strings.ToLower(strings.TrimSpace(field("hostname")))
	port, err := strconv.Atoi(strings.TrimSpace(field("port")))
	if err != nil {
		port = 80
	}
	path := strings.TrimSpace(field("path"))
	if path == "" {
		path = "/"
	}
	return entry{hostname: hostname, port: port, path: path}
}

// parserForFormat returns the parser for a list format string, or an error
// for a format no parser supports.
func parserForFormat(format string) (parser, error) {
	switch strings.ToLower(format) {
	case "csv":
		return csvParser{}, nil
	case "json":
		return jsonParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
