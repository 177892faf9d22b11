package article

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrInputMalformed 输入批次无法解析或缺少必要字段，整次运行终止
	ErrInputMalformed = errors.New("input malformed")
	// ErrFingerprintAmbiguous 既无可用 URL 也无标题+来源，无法生成指纹
	ErrFingerprintAmbiguous = errors.New("fingerprint ambiguous")
)

// Tier 分类层级，由外部分类器给出
type Tier string

const (
	TierUnset       Tier = ""
	TierMustKnow    Tier = "MUST_KNOW"
	TierInteressant Tier = "INTERESSANT"
	TierNiceToKnow  Tier = "NICE_TO_KNOW"
)

// Tiers 固定的章节顺序
var Tiers = []Tier{TierMustKnow, TierInteressant, TierNiceToKnow}

// Valid 是否为已知层级
func (t Tier) Valid() bool {
	switch t {
	case TierMustKnow, TierInteressant, TierNiceToKnow:
		return true
	}
	return false
}

// Label 章节标题中使用的名称
func (t Tier) Label() string {
	return strings.ReplaceAll(string(t), "_", "-")
}

// ParseTier 解析分类器输出的层级，容忍大小写和连字符写法
func ParseTier(s string) (Tier, bool) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	norm = strings.ReplaceAll(norm, " ", "_")
	t := Tier(norm)
	if t.Valid() {
		return t, true
	}
	return t, false
}

// Article 规范化后的文章，创建后不再修改
type Article struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"publishedAt"`
	Summary     string    `json:"summary"`
	Tier        Tier      `json:"tier,omitempty"`
	// Blurb 分类器撰写的摘要，可为空
	Blurb string `json:"blurb,omitempty"`
}

// WithTier 返回带有分类结果的副本
func (a Article) WithTier(tier Tier, blurb string) Article {
	a.Tier = tier
	a.Blurb = strings.TrimSpace(blurb)
	return a
}
