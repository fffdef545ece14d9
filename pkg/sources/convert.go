// Copyright 2025 The Quiver Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"

	"github.com/quiverkb/quiver/pkg/models"
)

// Converter turns binary file formats into markdown so they flow through the
// regular chunking strategies. Unsupported or failing files produce a
// fallback document rather than an error, so one bad attachment never stops
// an ingest.
type Converter struct {
	// MaxFileSize in bytes; larger files are not converted.
	MaxFileSize int64
	// Timeout bounds one conversion.
	Timeout time.Duration
}

// NewConverter creates a converter with the given budgets. Zero values select
// the defaults (50 MB, 60 s).
func NewConverter(maxFileSize int64, timeout time.Duration) *Converter {
	if maxFileSize <= 0 {
		maxFileSize = 50 * 1024 * 1024
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Converter{MaxFileSize: maxFileSize, Timeout: timeout}
}

// CanConvert reports whether the file extension has a converter.
func (c *Converter) CanConvert(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf", ".docx", ".xlsx":
		return true
	}
	return false
}

// Apply converts the file at path and rewrites doc in place: content becomes
// markdown, content_type becomes "md", and conversion metadata is recorded.
// On failure doc receives a short explanation body and conversion_failed=true.
func (c *Converter) Apply(ctx context.Context, doc *models.Document, path string) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	doc.SetMetadata(models.PayloadOriginalFileType, ext)
	doc.SetMetadata(models.PayloadIsConverted, true)

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	content, method, err := c.convert(ctx, path)
	if err != nil {
		doc.Content = fmt.Sprintf("Conversion of %s file %q failed: %v", ext, filepath.Base(path), err)
		doc.ContentType = "txt"
		doc.SetMetadata(MetaConversionFailed, true)
		return
	}
	doc.Content = content
	doc.ContentType = "md"
	doc.SetMetadata(MetaConversionMethod, method)
}

func (c *Converter) convert(ctx context.Context, path string) (string, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", "", err
	}
	if info.Size() > c.MaxFileSize {
		return "", "", fmt.Errorf("file size %d exceeds limit %d", info.Size(), c.MaxFileSize)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		content, err := convertPDF(ctx, path, info.Size())
		return content, "pdf_text_extraction", err
	case ".docx":
		content, err := convertDocx(path)
		return content, "docx_text_extraction", err
	case ".xlsx":
		content, err := convertXlsx(ctx, path)
		return content, "xlsx_cell_extraction", err
	default:
		return "", "", fmt.Errorf("no converter for %s", filepath.Ext(path))
	}
}

func convertPDF(ctx context.Context, path string, size int64) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer file.Close()

	reader, err := pdf.NewReader(file, size)
	if err != nil {
		return "", fmt.Errorf("failed to parse PDF: %w", err)
	}

	var parts []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, fmt.Sprintf("## Page %d\n\n%s", pageNum, text))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no extractable text")
	}
	return strings.Join(parts, "\n\n"), nil
}

func convertDocx(path string) (string, error) {
	reader, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to parse docx: %w", err)
	}
	defer reader.Close()

	content := strings.TrimSpace(reader.Editable().GetContent())
	if content == "" {
		return "", fmt.Errorf("no extractable text")
	}
	return content, nil
}

func convertXlsx(ctx context.Context, path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to parse xlsx: %w", err)
	}
	defer f.Close()

	const maxCellsPerSheet = 1000

	var parts []string
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "## Sheet: %s\n\n", sheet)
		cells := 0
		for _, row := range rows {
			if cells >= maxCellsPerSheet {
				sb.WriteString("\n... (truncated)\n")
				break
			}
			fields := make([]string, 0, len(row))
			for _, cell := range row {
				if text := strings.TrimSpace(cell); text != "" {
					fields = append(fields, text)
					cells++
				}
			}
			if len(fields) > 0 {
				sb.WriteString("| " + strings.Join(fields, " | ") + " |\n")
			}
		}
		if cells > 0 {
			parts = append(parts, sb.String())
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no extractable cells")
	}
	return strings.Join(parts, "\n\n"), nil
}
