// Package pipeline はジョブを獲得し、プロデューサーを起動して
// Asset/Object 行を書き込むワーカーループを提供します。
package pipeline

import (
	"context"

	"github.com/yourusername/docforge/internal/store"
)

// Input はプロデューサーへの入力です。Content は対象バージョンの原本です。
type Input struct {
	Document *store.Document
	Version  *store.DocumentVersion
	Content  []byte
}

// ObjectPayload はプロデューサーが生成する1オブジェクト（1ページ等）です。
// Ordinal は 1 始まりです。
type ObjectPayload struct {
	Ordinal  int
	Data     []byte
	MIMEType string
	Metadata map[string]any
}

// Emitter はプロデューサーが生成物を逐次書き出すための窓口です。
// Declare は真のページ数が確定する前の推定カーディナリティを申告します。
// Emit は1オブジェクトずつ永続化します。途中で失敗しても、
// それまでに Emit されたオブジェクトは保持されます。
type Emitter interface {
	Declare(cardinality int) error
	Emit(obj ObjectPayload) error
}

// Output はプロデューサーの最終結果です。Cardinality は確定値です。
type Output struct {
	Cardinality int
	Metadata    map[string]any
}

// Producer は1つのアセット種別に対する不透明な生成器です。
type Producer interface {
	AssetType() store.AssetType
	Produce(ctx context.Context, in Input, em Emitter) (Output, error)
}
