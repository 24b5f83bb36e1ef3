package extract

import (
	"context"
	"fmt"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/gabriel-vasile/mimetype"
	"google.golang.org/api/option"
)

// DocumentAIConfig identifies the processor used for layout-aware OCR.
type DocumentAIConfig struct {
	ProjectID   string
	Location    string
	ProcessorID string
	Version     string
}

// DocumentAIStrategy sends the document to a Document AI processor and
// renders its paragraphs and tables. Tables are rendered as markdown so the
// model sees column structure.
type DocumentAIStrategy struct {
	name    string
	process func(ctx context.Context, req *documentaipb.ProcessRequest) (*documentaipb.ProcessResponse, error)
	close   func() error
}

// NewDocumentAIStrategy dials the regional Document AI endpoint.
func NewDocumentAIStrategy(ctx context.Context, cfg DocumentAIConfig, opts ...option.ClientOption) (*DocumentAIStrategy, error) {
	name := processorName(cfg.ProjectID, cfg.Location, cfg.ProcessorID, cfg.Version)
	if name == "" {
		return nil, fmt.Errorf("NewDocumentAIStrategy: project, location and processor are required")
	}

	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.Location)
	opts = append([]option.ClientOption{option.WithEndpoint(endpoint)}, opts...)
	client, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewDocumentAIStrategy: documentai client: %w", err)
	}

	return &DocumentAIStrategy{
		name: name,
		process: func(ctx context.Context, req *documentaipb.ProcessRequest) (*documentaipb.ProcessResponse, error) {
			return client.ProcessDocument(ctx, req)
		},
		close: client.Close,
	}, nil
}

func (s *DocumentAIStrategy) Name() string { return "documentai" }

// Close releases the underlying gRPC connection.
func (s *DocumentAIStrategy) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

func (s *DocumentAIStrategy) Attempt(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrUnsupported
	}
	mime := mimetype.Detect(data)
	if !mime.Is("application/pdf") && !strings.HasPrefix(mime.String(), "image/") {
		return "", ErrUnsupported
	}

	resp, err := s.process(ctx, &documentaipb.ProcessRequest{
		Name: s.name,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  data,
				MimeType: mime.String(),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("documentai ProcessDocument: %w", err)
	}
	if resp == nil || resp.Document == nil {
		return "", nil
	}
	return renderDocument(resp.Document), nil
}

// renderDocument emits page paragraphs followed by that page's tables. When
// the processor returns no page structure the flat text is used.
func renderDocument(doc *documentaipb.Document) string {
	var b strings.Builder
	for _, p := range doc.Pages {
		if p == nil {
			continue
		}

		var page strings.Builder
		for _, para := range p.Paragraphs {
			if para == nil || para.Layout == nil {
				continue
			}
			t := strings.TrimSpace(textFromAnchor(doc.Text, para.Layout.TextAnchor))
			if t == "" {
				continue
			}
			page.WriteString(t)
			page.WriteByte('\n')
		}
		for _, table := range p.Tables {
			if md := tableToMarkdown(doc.Text, table); md != "" {
				page.WriteByte('\n')
				page.WriteString(md)
			}
		}

		if page.Len() == 0 {
			continue
		}
		fmt.Fprintf(&b, "--- Page %d ---\n", p.PageNumber)
		b.WriteString(page.String())
	}

	if strings.TrimSpace(b.String()) == "" {
		return strings.TrimSpace(doc.Text)
	}
	return b.String()
}

func textFromAnchor(full string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil || full == "" {
		return ""
	}
	var b strings.Builder
	for _, seg := range anchor.TextSegments {
		if seg == nil {
			continue
		}
		start, end := int(seg.StartIndex), int(seg.EndIndex)
		if start < 0 {
			start = 0
		}
		if end > len(full) {
			end = len(full)
		}
		if start >= end {
			continue
		}
		b.WriteString(full[start:end])
	}
	return b.String()
}

func tableToMarkdown(full string, t *documentaipb.Document_Page_Table) string {
	if t == nil {
		return ""
	}

	var header []string
	if len(t.HeaderRows) > 0 {
		header = rowCells(full, t.HeaderRows[0])
	}
	body := t.BodyRows
	if len(header) == 0 && len(body) > 0 {
		header = rowCells(full, body[0])
		body = body[1:]
	}
	if len(header) == 0 {
		return ""
	}

	rows := [][]string{header}
	width := len(header)
	for _, r := range body {
		cells := rowCells(full, r)
		if len(cells) > width {
			width = len(cells)
		}
		rows = append(rows, cells)
	}

	var b strings.Builder
	for i, r := range rows {
		for len(r) < width {
			r = append(r, "")
		}
		b.WriteString("| " + strings.Join(r, " | ") + " |\n")
		if i == 0 {
			sep := make([]string, width)
			for j := range sep {
				sep[j] = "---"
			}
			b.WriteString("| " + strings.Join(sep, " | ") + " |\n")
		}
	}
	return b.String()
}

func rowCells(full string, r *documentaipb.Document_Page_Table_TableRow) []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Cells))
	for _, c := range r.Cells {
		if c == nil || c.Layout == nil {
			out = append(out, "")
			continue
		}
		cell := strings.TrimSpace(textFromAnchor(full, c.Layout.TextAnchor))
		out = append(out, strings.ReplaceAll(cell, "|", `\|`))
	}
	return out
}

func processorName(project, location, processorID, version string) string {
	project = strings.TrimSpace(project)
	location = strings.TrimSpace(location)
	processorID = strings.TrimSpace(processorID)
	if project == "" || location == "" || processorID == "" {
		return ""
	}
	name := fmt.Sprintf("projects/%s/locations/%s/processors/%s", project, location, processorID)
	if v := strings.TrimSpace(version); v != "" {
		name += "/processorVersions/" + v
	}
	return name
}
