package assetcache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// HTTPFetcher はAPIサーバーの解決エンドポイントを呼び出す Fetcher 実装です。
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
}

// NewHTTPFetcher は HTTPFetcher を初期化します。client が nil なら
// 10秒タイムアウト付きのクライアントを使います。
func NewHTTPFetcher(baseURL string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

type objectsResponse struct {
	AssetID     uuid.UUID `json:"asset_id"`
	Cardinality int       `json:"cardinality"`
	Objects     []struct {
		Ordinal   int       `json:"ordinal"`
		URL       string    `json:"url"`
		MIMEType  string    `json:"mime_type"`
		ExpiresAt time.Time `json:"expires_at"`
	} `json:"objects"`
}

// FetchObjects は GET /api/assets/:id/objects を呼び出します。
func (f *HTTPFetcher) FetchObjects(ctx context.Context, documentID, assetID uuid.UUID, start, limit int) (*FetchResult, error) {
	url := fmt.Sprintf("%s/api/assets/%s/objects?start=%d&limit=%d", f.baseURL, assetID, start, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch asset objects: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("asset objects request failed: status=%d body=%s", resp.StatusCode, body)
	}

	var decoded objectsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode asset objects response: %w", err)
	}

	result := &FetchResult{
		AssetID:     decoded.AssetID,
		Cardinality: decoded.Cardinality,
		Objects:     make([]Object, 0, len(decoded.Objects)),
	}
	for _, obj := range decoded.Objects {
		result.Objects = append(result.Objects, Object{
			Ordinal:   obj.Ordinal,
			URL:       obj.URL,
			MIMEType:  obj.MIMEType,
			ExpiresAt: obj.ExpiresAt,
		})
	}
	return result, nil
}
