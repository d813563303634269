package extractor

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"docqa/internal/domain"
)

type docxDocument struct {
	Body struct {
		Paragraphs []docxParagraph `xml:"p"`
		Tables     []docxTable     `xml:"tbl"`
	} `xml:"body"`
}

type docxParagraph struct {
	Props struct {
		Style docxVal `xml:"pStyle"`
	} `xml:"pPr"`
	Runs []docxRun `xml:"r"`
}

type docxRun struct {
	Props struct {
		Bold *docxVal `xml:"b"`
		Size *docxVal `xml:"sz"`
	} `xml:"rPr"`
	Text []struct {
		Content string `xml:",chardata"`
	} `xml:"t"`
	Tabs []struct{} `xml:"tab"`
}

type docxTable struct {
	Rows []struct {
		Cells []struct {
			Paragraphs []docxParagraph `xml:"p"`
		} `xml:"tc"`
	} `xml:"tr"`
}

type docxVal struct {
	Val string `xml:"val,attr"`
}

type docxCore struct {
	Title    string `xml:"title"`
	Creator  string `xml:"creator"`
	Created  string `xml:"created"`
	Modified string `xml:"modified"`
	Language string `xml:"language"`
}

func extractDOCX(path string) (*domain.Extraction, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open docx: %v", domain.ErrExtraction, err)
	}
	defer zr.Close()

	body, err := readZipEntry(&zr.Reader, "word/document.xml")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExtraction, err)
	}
	var doc docxDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse document.xml: %v", domain.ErrExtraction, err)
	}

	var (
		lines      []string
		paragraphs []domain.Paragraph
	)
	for _, p := range doc.Body.Paragraphs {
		para := p.toParagraph()
		if strings.TrimSpace(para.Text) == "" {
			continue
		}
		lines = append(lines, para.Text)
		paragraphs = append(paragraphs, para)
	}
	for _, tbl := range doc.Body.Tables {
		for _, row := range tbl.Rows {
			var cells []string
			for _, cell := range row.Cells {
				var parts []string
				for _, p := range cell.Paragraphs {
					if t := strings.TrimSpace(p.text()); t != "" {
						parts = append(parts, t)
					}
				}
				cells = append(cells, strings.Join(parts, " "))
			}
			if line := strings.Join(cells, " | "); strings.TrimSpace(strings.ReplaceAll(line, "|", "")) != "" {
				lines = append(lines, line)
			}
		}
	}

	meta := map[string]any{
		"format":          "docx",
		"paragraph_count": len(paragraphs),
		"table_count":     len(doc.Body.Tables),
	}
	if core, err := readZipEntry(&zr.Reader, "docProps/core.xml"); err == nil {
		var props docxCore
		if xml.Unmarshal(core, &props) == nil {
			setIfPresent(meta, "title", props.Title)
			setIfPresent(meta, "author", props.Creator)
			setIfPresent(meta, "created", props.Created)
			setIfPresent(meta, "modified", props.Modified)
			setIfPresent(meta, "language", props.Language)
		}
	}

	return &domain.Extraction{
		Text:       strings.Join(lines, "\n"),
		Metadata:   meta,
		Paragraphs: paragraphs,
	}, nil
}

func (p docxParagraph) text() string {
	var sb strings.Builder
	for _, r := range p.Runs {
		for range r.Tabs {
			sb.WriteString("\t")
		}
		for _, t := range r.Text {
			sb.WriteString(t.Content)
		}
	}
	return sb.String()
}

// toParagraph reports bold when any text run is bold, and the average run
// font size in points.
func (p docxParagraph) toParagraph() domain.Paragraph {
	para := domain.Paragraph{Text: p.text(), Style: p.Props.Style.Val}
	var (
		boldRuns, sized int
		sizeSum         float64
	)
	for _, r := range p.Runs {
		if len(r.Text) == 0 {
			continue
		}
		if b := r.Props.Bold; b != nil && b.Val != "0" && b.Val != "false" {
			boldRuns++
		}
		if r.Props.Size != nil {
			if halfPts, err := strconv.ParseFloat(r.Props.Size.Val, 64); err == nil {
				sizeSum += halfPts / 2
				sized++
			}
		}
	}
	para.Bold = boldRuns > 0
	if sized > 0 {
		para.FontSize = sizeSum / float64(sized)
	}
	return para
}

func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}

func setIfPresent(m map[string]any, key, val string) {
	if v := strings.TrimSpace(val); v != "" {
		m[key] = v
	}
}
