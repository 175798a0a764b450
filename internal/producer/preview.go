package producer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yourusername/docforge/internal/pipeline"
	"github.com/yourusername/docforge/internal/store"
)

// Preview はPDFをページ単位の単ページPDFへ分解します。
// 1ページが序数1つに対応します。
type Preview struct{}

// NewPreview は Preview を初期化します。
func NewPreview() *Preview {
	return &Preview{}
}

func (p *Preview) AssetType() store.AssetType {
	return store.AssetTypePreview
}

func (p *Preview) Produce(ctx context.Context, in pipeline.Input, em pipeline.Emitter) (pipeline.Output, error) {
	dir, err := os.MkdirTemp("", "preview-*")
	if err != nil {
		return pipeline.Output{}, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(dir)

	inputPath := filepath.Join(dir, "source.pdf")
	if err := os.WriteFile(inputPath, in.Content, 0o640); err != nil {
		return pipeline.Output{}, fmt.Errorf("failed to write source file: %w", err)
	}

	pageCount, err := pdfapi.PageCountFile(inputPath)
	if err != nil {
		return pipeline.Output{}, fmt.Errorf("failed to count pages: %w", err)
	}
	if pageCount < 1 {
		return pipeline.Output{}, fmt.Errorf("document has no pages")
	}

	if err := em.Declare(pageCount); err != nil {
		return pipeline.Output{}, err
	}

	for page := 1; page <= pageCount; page++ {
		select {
		case <-ctx.Done():
			return pipeline.Output{}, ctx.Err()
		default:
		}

		pagePath := filepath.Join(dir, fmt.Sprintf("page-%d.pdf", page))
		if err := pdfapi.CollectFile(inputPath, pagePath, []string{strconv.Itoa(page)}, nil); err != nil {
			return pipeline.Output{}, fmt.Errorf("failed to extract page %d: %w", page, err)
		}

		data, err := os.ReadFile(pagePath)
		if err != nil {
			return pipeline.Output{}, fmt.Errorf("failed to read page %d: %w", page, err)
		}

		if err := em.Emit(pipeline.ObjectPayload{
			Ordinal:  page,
			Data:     data,
			MIMEType: "application/pdf",
			Metadata: map[string]any{"page": page},
		}); err != nil {
			return pipeline.Output{}, err
		}
	}

	return pipeline.Output{
		Cardinality: pageCount,
		Metadata:    map[string]any{"page_count": pageCount},
	}, nil
}
