// Package export serializes history records into downloadable documents.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/hpungsan/drip/internal/email"
	"github.com/hpungsan/drip/internal/errors"
)

// Format is an export encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatCSV
	FormatText
	FormatHTML
)

type formatInfo struct {
	name   string
	ext    string
	mime   string
	encode func(recs []email.Record, now time.Time) ([]byte, error)
}

var formats = [...]formatInfo{
	FormatJSON: {name: "json", ext: "json", mime: "application/json", encode: encodeJSON},
	FormatCSV:  {name: "csv", ext: "csv", mime: "text/csv", encode: encodeCSV},
	FormatText: {name: "text", ext: "txt", mime: "text/plain", encode: encodeText},
	FormatHTML: {name: "html", ext: "html", mime: "text/html", encode: encodeHTML},
}

// Formats lists the supported format names.
func Formats() []string {
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = f.name
	}
	return names
}

// ParseFormat accepts a format name or its file extension.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, f := range formats {
		if s == f.name || s == f.ext {
			return Format(i), nil
		}
	}
	return 0, errors.NewInvalidRequest(fmt.Sprintf("unknown export format %q; choose one of: %s", s, strings.Join(Formats(), ", ")))
}

func (f Format) valid() bool { return f >= 0 && int(f) < len(formats) }

// String returns the format name.
func (f Format) String() string {
	if !f.valid() {
		return fmt.Sprintf("Format(%d)", int(f))
	}
	return formats[f].name
}

// Extension returns the file extension without the dot.
func (f Format) Extension() string {
	if !f.valid() {
		return ""
	}
	return formats[f].ext
}

// MIMEType returns the content type.
func (f Format) MIMEType() string {
	if !f.valid() {
		return ""
	}
	return formats[f].mime
}

// Artifact is an encoded export.
type Artifact struct {
	Content  []byte
	Filename string
	MIMEType string
	Format   Format
	Count    int
}

// Filename returns emails-export-<YYYY-MM-DD>.<ext> for the UTC date of now.
func Filename(f Format, now time.Time) string {
	return fmt.Sprintf("emails-export-%s.%s", now.UTC().Format(time.DateOnly), f.Extension())
}

// Encode serializes records in the given format. Records are written in the order given.
func Encode(recs []email.Record, f Format, now time.Time) (*Artifact, error) {
	if !f.valid() {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown export format %d", int(f)))
	}
	content, err := formats[f].encode(recs, now.UTC())
	if err != nil {
		return nil, errors.NewExportFailed(err)
	}
	return &Artifact{
		Content:  content,
		Filename: Filename(f, now),
		MIMEType: f.MIMEType(),
		Format:   f,
		Count:    len(recs),
	}, nil
}

type jsonRecord struct {
	ID        string  `json:"id"`
	CreatedAt string  `json:"createdAt"`
	Original  string  `json:"original"`
	Rewritten string  `json:"rewritten"`
	Roast     *string `json:"roast"`
}

type jsonDocument struct {
	ExportDate  string       `json:"exportDate"`
	TotalEmails int          `json:"totalEmails"`
	Emails      []jsonRecord `json:"emails"`
}

func encodeJSON(recs []email.Record, now time.Time) ([]byte, error) {
	doc := jsonDocument{
		ExportDate:  now.Format(time.RFC3339),
		TotalEmails: len(recs),
		Emails:      make([]jsonRecord, len(recs)),
	}
	for i, r := range recs {
		doc.Emails[i] = jsonRecord{
			ID:        r.ID,
			CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339),
			Original:  r.Original,
			Rewritten: r.Rewritten,
			Roast:     r.Roast,
		}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

const csvHeader = "Date Created,Original Email,Rewritten Email,Roast"

// encodeCSV quotes every data field, which encoding/csv.Writer does not do.
func encodeCSV(recs []email.Record, _ time.Time) ([]byte, error) {
	var b strings.Builder
	b.WriteString(csvHeader)
	b.WriteString("\n")
	for _, r := range recs {
		roast := "N/A"
		if r.Roast != nil {
			roast = *r.Roast
		}
		fields := []string{formatDate(r.CreatedAt), r.Original, r.Rewritten, roast}
		for i, f := range fields {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(csvQuote(f))
		}
		b.WriteString("\n")
	}
	return []byte(b.String()), nil
}

func csvQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Rule separates records in the text format.
var Rule = strings.Repeat("=", 50)

func encodeText(recs []email.Record, now time.Time) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Email Export\nExported: %s\nTotal Emails: %d\n\n%s\n\n", formatDate(now), len(recs), Rule)
	for i, r := range recs {
		fmt.Fprintf(&b, "Email #%d\n", i+1)
		fmt.Fprintf(&b, "Date: %s\n\n", formatDate(r.CreatedAt))
		fmt.Fprintf(&b, "Original:\n%s\n\n", r.Original)
		fmt.Fprintf(&b, "Rewritten:\n%s\n\n", r.Rewritten)
		if r.Roast != nil {
			fmt.Fprintf(&b, "Roast:\n%s\n\n", *r.Roast)
		}
		b.WriteString(Rule)
		b.WriteString("\n\n")
	}
	return []byte(b.String()), nil
}

func encodeHTML(recs []email.Record, now time.Time) ([]byte, error) {
	var md strings.Builder
	fmt.Fprintf(&md, "# Email Export\n\nExported %s. Total emails: %d.\n\n", formatDate(now), len(recs))
	for i, r := range recs {
		fmt.Fprintf(&md, "## Email #%d\n\n_%s_\n\n", i+1, formatDate(r.CreatedAt))
		writeSection(&md, "Original", r.Original)
		writeSection(&md, "Rewritten", r.Rewritten)
		if r.Roast != nil {
			writeSection(&md, "Roast", *r.Roast)
		}
		md.WriteString("---\n\n")
	}

	var body bytes.Buffer
	if err := goldmark.Convert([]byte(md.String()), &body); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>Email Export</title>\n</head>\n<body>\n")
	out.Write(body.Bytes())
	out.WriteString("</body>\n</html>\n")
	return out.Bytes(), nil
}

// writeSection emits text as a fenced block so user content is never parsed as markdown.
func writeSection(md *strings.Builder, title, text string) {
	fence := fenceFor(text)
	fmt.Fprintf(md, "### %s\n\n%s\n%s\n%s\n\n", title, fence, text, fence)
}

// fenceFor returns a backtick fence longer than any backtick run in s.
func fenceFor(s string) string {
	longest, run := 0, 0
	for _, c := range s {
		if c == '`' {
			run++
			longest = max(longest, run)
		} else {
			run = 0
		}
	}
	return strings.Repeat("`", max(3, longest+1))
}

func formatDate(t time.Time) string {
	return t.UTC().Format(time.DateTime) + " UTC"
}
