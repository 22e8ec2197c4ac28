// Package export renders finished translation jobs into interchange
// formats: JSON for tooling, CSV/TSV for spreadsheets, XLIFF 1.2 for CAT
// tools. Rendering is pure; callers decide where the bytes go.
package export

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"loclab.gg/stringsmith/internal/batch"
	"loclab.gg/stringsmith/internal/globaltime"
)

// Format names one supported encoding.
type Format string

const (
	FormatJSON  Format = "json"
	FormatCSV   Format = "csv"
	FormatTSV   Format = "tsv"
	FormatXLIFF Format = "xliff"
)

// ParseFormat resolves a user-supplied format name.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "tsv":
		return FormatTSV, nil
	case "xliff", "xlf":
		return FormatXLIFF, nil
	default:
		return "", fmt.Errorf("unknown export format %q", name)
	}
}

// ContentType is the MIME type a download of this format should carry.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatTSV:
		return "text/tab-separated-values; charset=utf-8"
	case FormatXLIFF:
		return "application/x-xliff+xml"
	default:
		return "application/json"
	}
}

// Extension is the conventional file suffix, dot included.
func (f Format) Extension() string {
	switch f {
	case FormatCSV:
		return ".csv"
	case FormatTSV:
		return ".tsv"
	case FormatXLIFF:
		return ".xlf"
	default:
		return ".json"
	}
}

// Render encodes the job in the requested format. CSV, TSV and XLIFF carry
// only items that actually have a translation; JSON carries everything.
func Render(job batch.Job, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return renderJSON(job)
	case FormatCSV:
		return renderSeparated(job, ','), nil
	case FormatTSV:
		return renderSeparated(job, '\t'), nil
	case FormatXLIFF:
		return renderXLIFF(job)
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

type jsonDocument struct {
	ExportedAt     time.Time     `json:"exportedAt"`
	JobID          string        `json:"jobId"`
	Name           string        `json:"name"`
	SourceLanguage string        `json:"sourceLanguage"`
	TargetLanguage string        `json:"targetLanguage"`
	Provider       string        `json:"provider"`
	Status         batch.Status  `json:"status"`
	CreatedAt      time.Time     `json:"createdAt"`
	CompletedAt    *time.Time    `json:"completedAt,omitempty"`
	Items          []jsonItem    `json:"items"`
	Results        batch.Results `json:"results"`
}

type jsonItem struct {
	Key        string           `json:"key"`
	Source     string           `json:"source"`
	Target     string           `json:"target,omitempty"`
	Status     batch.ItemStatus `json:"status"`
	FromMemory bool             `json:"fromMemory"`
	Quality    *int             `json:"quality,omitempty"`
	Error      string           `json:"error,omitempty"`
}

func renderJSON(job batch.Job) ([]byte, error) {
	doc := jsonDocument{
		ExportedAt:     globaltime.UTC(),
		JobID:          job.ID,
		Name:           job.Name,
		SourceLanguage: job.SourceLanguage,
		TargetLanguage: job.TargetLanguage,
		Provider:       job.Provider,
		Status:         job.Status,
		CreatedAt:      job.CreatedAt,
		CompletedAt:    job.CompletedAt,
		Items:          make([]jsonItem, 0, len(job.Items)),
		Results:        job.Results,
	}
	for _, item := range job.Items {
		ji := jsonItem{
			Key:        itemKey(item),
			Source:     item.SourceText,
			Target:     item.TranslatedText,
			Status:     item.Status,
			FromMemory: item.FromMemory,
			Error:      item.Error,
		}
		if item.Quality != nil {
			score := item.Quality.Score
			ji.Quality = &score
		}
		doc.Items = append(doc.Items, ji)
	}

	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export json: %w", err)
	}
	return append(payload, '\n'), nil
}

func renderSeparated(job batch.Job, sep rune) []byte {
	escape, eol := escapeCSV, "\r\n"
	if sep == '\t' {
		escape, eol = escapeTSV, "\n"
	}

	var out strings.Builder
	header := []string{"key", "source", "target", "quality"}
	out.WriteString(strings.Join(header, string(sep)))
	out.WriteString(eol)

	for _, item := range job.Items {
		if strings.TrimSpace(item.TranslatedText) == "" {
			continue
		}
		quality := ""
		if item.Quality != nil {
			quality = strconv.Itoa(item.Quality.Score)
		}
		row := []string{
			escape(itemKey(item)),
			escape(item.SourceText),
			escape(item.TranslatedText),
			quality,
		}
		out.WriteString(strings.Join(row, string(sep)))
		out.WriteString(eol)
	}
	return []byte(out.String())
}

// escapeCSV quotes per RFC 4180: fields holding the separator, quotes or
// line breaks are wrapped in quotes with inner quotes doubled.
func escapeCSV(field string) string {
	if !strings.ContainsAny(field, ",\"\n\r") {
		return field
	}
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}

// escapeTSV backslash-escapes the characters that would break a row.
func escapeTSV(field string) string {
	replacer := strings.NewReplacer(
		"\\", `\\`,
		"\t", `\t`,
		"\n", `\n`,
		"\r", `\r`,
	)
	return replacer.Replace(field)
}

type xliffDocument struct {
	XMLName xml.Name  `xml:"xliff"`
	Version string    `xml:"version,attr"`
	Xmlns   string    `xml:"xmlns,attr"`
	File    xliffFile `xml:"file"`
}

type xliffFile struct {
	Original       string      `xml:"original,attr"`
	SourceLanguage string      `xml:"source-language,attr"`
	TargetLanguage string      `xml:"target-language,attr"`
	Datatype       string      `xml:"datatype,attr"`
	Header         xliffHeader `xml:"header"`
	Body           xliffBody   `xml:"body"`
}

type xliffHeader struct {
	Tool xliffTool `xml:"tool"`
}

type xliffTool struct {
	ID      string `xml:"tool-id,attr"`
	Name    string `xml:"tool-name,attr"`
	Version string `xml:"tool-version,attr"`
}

type xliffBody struct {
	Units []transUnit `xml:"trans-unit"`
}

type transUnit struct {
	ID     string `xml:"id,attr"`
	Source string `xml:"source"`
	Target string `xml:"target"`
	Note   string `xml:"note,omitempty"`
}

func renderXLIFF(job batch.Job) ([]byte, error) {
	doc := xliffDocument{
		Version: "1.2",
		Xmlns:   "urn:oasis:names:tc:xliff:document:1.2",
		File: xliffFile{
			Original:       job.Name,
			SourceLanguage: job.SourceLanguage,
			TargetLanguage: job.TargetLanguage,
			Datatype:       "plaintext",
			Header: xliffHeader{
				Tool: xliffTool{ID: "stringsmith", Name: "stringsmith", Version: "1.0"},
			},
		},
	}
	if doc.File.Original == "" {
		doc.File.Original = job.ID
	}

	for _, item := range job.Items {
		if strings.TrimSpace(item.TranslatedText) == "" {
			continue
		}
		tu := transUnit{
			ID:     itemKey(item),
			Source: item.SourceText,
			Target: item.TranslatedText,
		}
		if item.Quality != nil {
			tu.Note = fmt.Sprintf("quality: %d (%s)", item.Quality.Score, item.Quality.Level)
		}
		doc.File.Body.Units = append(doc.File.Body.Units, tu)
	}

	payload, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export xliff: %w", err)
	}

	var out strings.Builder
	out.WriteString(xml.Header)
	out.Write(payload)
	out.WriteString("\n")
	return []byte(out.String()), nil
}

// itemKey prefers the loc key the caller attached; the item ID is the
// fallback so exports are always addressable.
func itemKey(item *batch.Item) string {
	if key := item.Metadata["key"]; key != "" {
		return key
	}
	return item.ID
}
