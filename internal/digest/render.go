package digest

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fachebot/news-digest-bot/internal/article"
)

const (
	// ZeroWidthSpace 用作 MUST-KNOW 与 INTERESSANT 之间的可见分隔行
	ZeroWidthSpace = "\u200b"

	sepParagraph = "\n\n"
	sepLine      = "\n"
	sepSection   = "\n" + ZeroWidthSpace + "\n"
)

var bareURLPattern = regexp.MustCompile(`https?://[^\s<>]+`)

// wrapBareURLs 为正文中的裸链接加上尖括号以抑制预览。
// 已包裹的链接、Markdown 链接目标以及紧跟在字母数字后的链接保持不变。
func wrapBareURLs(s string) string {
	matches := bareURLPattern.FindAllStringIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	var sb strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		prefix := s[:start]
		if strings.HasSuffix(prefix, "<") || strings.HasSuffix(prefix, "](") || endsWithWordRune(prefix) {
			continue
		}
		end = start + len(trimURLTail(s[start:end]))
		sb.WriteString(s[last:start])
		sb.WriteString("<" + s[start:end] + ">")
		last = end
	}
	sb.WriteString(s[last:])
	return sb.String()
}

// trimURLTail 去掉链接末尾的句读标点；右括号只在不配对时去掉
func trimURLTail(u string) string {
	for len(u) > 0 {
		c := u[len(u)-1]
		if c == ')' {
			if strings.Count(u, "(") >= strings.Count(u, ")") {
				break
			}
		} else if !strings.ContainsRune(".,;:!?'\"", rune(c)) {
			break
		}
		u = u[:len(u)-1]
	}
	return u
}

func endsWithWordRune(s string) bool {
	r, size := utf8.DecodeLastRuneInString(s)
	if size == 0 {
		return false
	}
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Header 章节标题行
func Header(tier article.Tier) string {
	return "# " + tier.Label()
}

// compactTier 该层级的条目使用单行列表形式
func compactTier(tier article.Tier) bool {
	return tier == article.TierNiceToKnow
}

func renderLink(e Entry) string {
	if e.Link == "" {
		return ""
	}
	if e.Source == "" {
		return "<" + e.Link + ">"
	}
	return "[" + e.Source + "](<" + e.Link + ">)"
}

// RenderEntry 渲染单条文章。列表形式保证只占一行
func RenderEntry(tier article.Tier, e Entry) string {
	headline := wrapBareURLs(oneLine(e.Headline))
	summary := wrapBareURLs(e.Summary)
	link := renderLink(e)

	if compactTier(tier) {
		line := "- " + headline
		if s := oneLine(summary); s != "" {
			line += " – " + s
		}
		if link != "" {
			line += " → " + link
		}
		return line
	}

	lines := []string{"**" + headline + "**"}
	if s := strings.TrimSpace(summary); s != "" {
		lines = append(lines, s)
	}
	if link != "" {
		lines = append(lines, "→ "+link)
	}
	return strings.Join(lines, "\n")
}

// unit 分块的最小单位，sep 为其与前一单位之间的分隔符
type unit struct {
	sep  string
	text string
}

// blocks 将文档展开为有序的块：标题行、章节标题与条目
func blocks(doc *Document) []unit {
	var out []unit
	if doc.Title != "" {
		out = append(out, unit{text: doc.Title})
	}

	var prev article.Tier
	for _, section := range doc.Sections {
		if len(section.Entries) == 0 {
			continue
		}

		sep := sepParagraph
		switch {
		case len(out) == 0:
			sep = ""
		case prev == article.TierMustKnow && section.Tier == article.TierInteressant:
			sep = sepSection
		}
		out = append(out, unit{sep: sep, text: Header(section.Tier)})

		entrySep := sepParagraph
		if compactTier(section.Tier) {
			entrySep = sepLine
		}
		for i, e := range section.Entries {
			s := entrySep
			if i == 0 {
				s = sepLine
			}
			out = append(out, unit{sep: s, text: RenderEntry(section.Tier, e)})
		}
		prev = section.Tier
	}
	return out
}

// Render 将文档渲染为不分块的完整文本
func Render(doc *Document) string {
	var sb strings.Builder
	for _, u := range blocks(doc) {
		sb.WriteString(u.sep)
		sb.WriteString(u.text)
	}
	return sb.String()
}
