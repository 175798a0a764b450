// Package producer は各アセット種別の生成器を実装します。
package producer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/yourusername/docforge/internal/pipeline"
	"github.com/yourusername/docforge/internal/store"
)

var pdfSignature = []byte("%PDF-")

// Thumbnail はサムネイル（PNG 1枚）を生成します。
// PDFは Ghostscript で先頭ページをレンダリングし、画像は原本をそのまま使います。
type Thumbnail struct {
	gsPath string
	width  int
}

// NewThumbnail は Thumbnail を初期化します。width が 0 以下なら 512 を使います。
func NewThumbnail(gsPath string, width int) *Thumbnail {
	if gsPath == "" {
		gsPath = "gs"
	}
	if width <= 0 {
		width = 512
	}
	return &Thumbnail{gsPath: gsPath, width: width}
}

func (t *Thumbnail) AssetType() store.AssetType {
	return store.AssetTypeThumbnail
}

func (t *Thumbnail) Produce(ctx context.Context, in pipeline.Input, em pipeline.Emitter) (pipeline.Output, error) {
	if err := em.Declare(1); err != nil {
		return pipeline.Output{}, err
	}

	if !bytes.HasPrefix(in.Content, pdfSignature) {
		// 画像入力はレンダリング不要。原本をサムネイルとして扱う。
		mime := in.Document.ContentType
		if mime == "" {
			mime = "application/octet-stream"
		}
		if err := em.Emit(pipeline.ObjectPayload{
			Ordinal:  1,
			Data:     in.Content,
			MIMEType: mime,
			Metadata: map[string]any{"source": "original"},
		}); err != nil {
			return pipeline.Output{}, err
		}
		return pipeline.Output{
			Cardinality: 1,
			Metadata:    map[string]any{"source": "original"},
		}, nil
	}

	data, err := t.renderFirstPage(ctx, in.Content)
	if err != nil {
		return pipeline.Output{}, err
	}

	if err := em.Emit(pipeline.ObjectPayload{
		Ordinal:  1,
		Data:     data,
		MIMEType: "image/png",
		Metadata: map[string]any{"width": t.width, "source": "ghostscript"},
	}); err != nil {
		return pipeline.Output{}, err
	}

	return pipeline.Output{
		Cardinality: 1,
		Metadata:    map[string]any{"width": t.width, "source": "ghostscript"},
	}, nil
}

func (t *Thumbnail) renderFirstPage(ctx context.Context, content []byte) ([]byte, error) {
	dir, err := os.MkdirTemp("", "thumbnail-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(dir)

	inputPath := filepath.Join(dir, "source.pdf")
	if err := os.WriteFile(inputPath, content, 0o640); err != nil {
		return nil, fmt.Errorf("failed to write source file: %w", err)
	}
	outputPath := filepath.Join(dir, "thumbnail.png")

	// US Letter 比率で高さを決め、-dPDFFitPage でページを枠に収める。
	height := t.width * 792 / 612
	args := []string{
		"-sDEVICE=png16m",
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		"-dFirstPage=1",
		"-dLastPage=1",
		"-dPDFFitPage",
		fmt.Sprintf("-g%dx%d", t.width, height),
		fmt.Sprintf("-sOutputFile=%s", outputPath),
		inputPath,
	}

	cmd := exec.CommandContext(ctx, t.gsPath, args...)
	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ghostscript failed: %s: %w", stderr.String(), err)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered thumbnail: %w", err)
	}
	return data, nil
}
