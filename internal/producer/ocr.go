package producer

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/yourusername/docforge/internal/pipeline"
	"github.com/yourusername/docforge/internal/store"
)

// OCRText はPDFの埋め込みテキストをページごとに抽出します。
// テキストを持たないページ（スキャン画像のみ等）は空のオブジェクトとして残し、
// 序数とページ番号の対応を崩しません。
type OCRText struct{}

// NewOCRText は OCRText を初期化します。
func NewOCRText() *OCRText {
	return &OCRText{}
}

func (o *OCRText) AssetType() store.AssetType {
	return store.AssetTypeOCRText
}

func (o *OCRText) Produce(ctx context.Context, in pipeline.Input, em pipeline.Emitter) (pipeline.Output, error) {
	reader, err := pdf.NewReader(bytes.NewReader(in.Content), int64(len(in.Content)))
	if err != nil {
		return pipeline.Output{}, fmt.Errorf("failed to open PDF: %w", err)
	}

	pageCount := reader.NumPage()
	if pageCount < 1 {
		return pipeline.Output{}, fmt.Errorf("document has no pages")
	}

	if err := em.Declare(pageCount); err != nil {
		return pipeline.Output{}, err
	}

	totalChars := 0
	emptyPages := 0

	for i := 1; i <= pageCount; i++ {
		select {
		case <-ctx.Done():
			return pipeline.Output{}, ctx.Err()
		default:
		}

		text := extractPageText(reader, i)
		if text == "" {
			emptyPages++
		}
		totalChars += utf8.RuneCountInString(text)

		if err := em.Emit(pipeline.ObjectPayload{
			Ordinal:  i,
			Data:     []byte(text),
			MIMEType: "text/plain; charset=utf-8",
			Metadata: map[string]any{"page": i, "chars": utf8.RuneCountInString(text)},
		}); err != nil {
			return pipeline.Output{}, err
		}
	}

	return pipeline.Output{
		Cardinality: pageCount,
		Metadata: map[string]any{
			"page_count":  pageCount,
			"total_chars": totalChars,
			"empty_pages": emptyPages,
		},
	}, nil
}

func extractPageText(reader *pdf.Reader, pageNum int) string {
	page := reader.Page(pageNum)
	if page.V.IsNull() {
		return ""
	}
	fonts := make(map[string]*pdf.Font)
	text, err := page.GetPlainText(fonts)
	if err != nil {
		return ""
	}
	return sanitizeText(text)
}

// sanitizeText は制御文字を落とし、空白を正規化します。
func sanitizeText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == '\n' || r == '\t' || r >= 0x20 {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
