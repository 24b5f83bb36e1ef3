package extract

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func anchor(start, end int64) *documentaipb.Document_TextAnchor {
	return &documentaipb.Document_TextAnchor{
		TextSegments: []*documentaipb.Document_TextAnchor_TextSegment{{StartIndex: start, EndIndex: end}},
	}
}

func cell(start, end int64) *documentaipb.Document_Page_Table_TableCell {
	return &documentaipb.Document_Page_Table_TableCell{Layout: &documentaipb.Document_Page_Layout{TextAnchor: anchor(start, end)}}
}

func TestRenderDocument_ParagraphsAndTables(t *testing.T) {
	full := "Statement\nDate Amount\n01/15 -85.50\n"
	doc := &documentaipb.Document{
		Text: full,
		Pages: []*documentaipb.Document_Page{{
			PageNumber: 1,
			Paragraphs: []*documentaipb.Document_Page_Paragraph{
				{Layout: &documentaipb.Document_Page_Layout{TextAnchor: anchor(0, 9)}},
			},
			Tables: []*documentaipb.Document_Page_Table{{
				HeaderRows: []*documentaipb.Document_Page_Table_TableRow{{Cells: []*documentaipb.Document_Page_Table_TableCell{cell(10, 14), cell(15, 21)}}},
				BodyRows:   []*documentaipb.Document_Page_Table_TableRow{{Cells: []*documentaipb.Document_Page_Table_TableCell{cell(22, 27), cell(28, 34)}}},
			}},
		}},
	}

	out := renderDocument(doc)

	assert.Contains(t, out, "--- Page 1 ---\nStatement\n")
	assert.Contains(t, out, "| Date | Amount |\n| --- | --- |\n| 01/15 | -85.50 |\n")
}

func TestRenderDocument_FallsBackToFlatText(t *testing.T) {
	doc := &documentaipb.Document{Text: "  flat text only  "}
	assert.Equal(t, "flat text only", renderDocument(doc))
}

func TestDocumentAIStrategy_Attempt(t *testing.T) {
	var got *documentaipb.ProcessRequest
	s := &DocumentAIStrategy{
		name: "projects/p/locations/us/processors/x",
		process: func(_ context.Context, req *documentaipb.ProcessRequest) (*documentaipb.ProcessResponse, error) {
			got = req
			return &documentaipb.ProcessResponse{Document: &documentaipb.Document{Text: "ocr text"}}, nil
		},
	}

	text, err := s.Attempt(context.Background(), []byte("%PDF-1.4\n1 0 obj\n"))
	require.NoError(t, err)
	assert.Equal(t, "ocr text", text)
	assert.Equal(t, "projects/p/locations/us/processors/x", got.Name)
	assert.Equal(t, "application/pdf", got.GetRawDocument().MimeType)

	_, err = s.Attempt(context.Background(), []byte("just text"))
	assert.True(t, errors.Is(err, ErrUnsupported))
}

func TestProcessorName(t *testing.T) {
	assert.Equal(t, "projects/p/locations/eu/processors/abc", processorName("p", "eu", "abc", ""))
	assert.Equal(t, "projects/p/locations/eu/processors/abc/processorVersions/v2", processorName("p", "eu", "abc", "v2"))
	assert.Equal(t, "", processorName("", "eu", "abc", ""))
}
