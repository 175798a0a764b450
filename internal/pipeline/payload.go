package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/yourusername/docforge/internal/store"
)

// AnalyzePayload は analyze-document ジョブのペイロードです。
type AnalyzePayload struct {
	DocumentID uuid.UUID `json:"document_id"`
	VersionID  uuid.UUID `json:"version_id"`
	Force      bool      `json:"force"`
}

// DerivePayload は derive-assets ジョブのペイロードです。
type DerivePayload struct {
	DocumentID uuid.UUID         `json:"document_id"`
	VersionID  uuid.UUID         `json:"version_id"`
	AssetTypes []store.AssetType `json:"asset_types"`
	Force      bool              `json:"force"`
}

func decodeAnalyzePayload(raw []byte) (*AnalyzePayload, error) {
	var p AnalyzePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid analyze payload: %w", err)
	}
	if p.DocumentID == uuid.Nil || p.VersionID == uuid.Nil {
		return nil, fmt.Errorf("analyze payload missing document_id or version_id")
	}
	return &p, nil
}

func decodeDerivePayload(raw []byte) (*DerivePayload, error) {
	var p DerivePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid derive payload: %w", err)
	}
	if p.DocumentID == uuid.Nil || p.VersionID == uuid.Nil {
		return nil, fmt.Errorf("derive payload missing document_id or version_id")
	}
	if len(p.AssetTypes) == 0 {
		return nil, fmt.Errorf("derive payload has no asset types")
	}
	return &p, nil
}
