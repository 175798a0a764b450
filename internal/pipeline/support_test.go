package pipeline

import (
	"testing"

	"github.com/yourusername/docforge/internal/store"
)

func TestSupportedAssetTypes(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		filename    string
		want        []store.AssetType
	}{
		{
			name:        "pdf by mime",
			contentType: "application/pdf",
			filename:    "doc.bin",
			want:        []store.AssetType{store.AssetTypeThumbnail, store.AssetTypePreview, store.AssetTypeOCRText},
		},
		{
			name:        "pdf by extension",
			contentType: "",
			filename:    "doc.PDF",
			want:        []store.AssetType{store.AssetTypeThumbnail, store.AssetTypePreview, store.AssetTypeOCRText},
		},
		{
			name:        "pdf with mime parameters",
			contentType: "application/pdf; charset=binary",
			filename:    "doc.bin",
			want:        []store.AssetType{store.AssetTypeThumbnail, store.AssetTypePreview, store.AssetTypeOCRText},
		},
		{
			name:        "image gets thumbnail only",
			contentType: "image/png",
			filename:    "photo.png",
			want:        []store.AssetType{store.AssetTypeThumbnail},
		},
		{
			name:        "unsupported format",
			contentType: "application/zip",
			filename:    "archive.zip",
			want:        nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := &store.Document{ContentType: tc.contentType, OriginalName: tc.filename}
			got := supportedAssetTypes(doc)
			if len(got) != len(tc.want) {
				t.Fatalf("types = %v, want %v", got, tc.want)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Errorf("types[%d] = %s, want %s", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestDecodePayloads(t *testing.T) {
	if _, err := decodeAnalyzePayload([]byte(`{`)); err == nil {
		t.Error("malformed analyze payload should fail")
	}
	if _, err := decodeAnalyzePayload([]byte(`{}`)); err == nil {
		t.Error("analyze payload without IDs should fail")
	}
	if _, err := decodeDerivePayload([]byte(`{"document_id":"00000000-0000-0000-0000-000000000001","version_id":"00000000-0000-0000-0000-000000000002"}`)); err == nil {
		t.Error("derive payload without asset types should fail")
	}

	p, err := decodeDerivePayload([]byte(`{"document_id":"00000000-0000-0000-0000-000000000001","version_id":"00000000-0000-0000-0000-000000000002","asset_types":["preview"],"force":true}`))
	if err != nil {
		t.Fatalf("decodeDerivePayload failed: %v", err)
	}
	if !p.Force || len(p.AssetTypes) != 1 || p.AssetTypes[0] != store.AssetTypePreview {
		t.Errorf("decoded payload = %+v", p)
	}
}
