package model

// KeywordCategoryEventType はイベント種別を示すキーワードカテゴリ。
const KeywordCategoryEventType = "event_type"

// Keyword はキャプションの部分一致スコアリングに使う重み付きキーワード。
// 参照専用の静的データ。
type Keyword struct {
	Keyword  string
	Category string
	Weight   *int // NULLの行は重み0として扱う
}

// EffectiveWeight はNULLを0に読み替えた重みを返す。
func (k Keyword) EffectiveWeight() int {
	if k.Weight == nil {
		return 0
	}
	return *k.Weight
}
