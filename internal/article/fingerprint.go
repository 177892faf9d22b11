package article

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

// CanonicalURL 规范化 URL：scheme+host+path，去掉查询和片段，去掉末尾斜杠，统一小写
func CanonicalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("missing host")
	}

	path := strings.TrimRight(u.EscapedPath(), "/")
	return strings.ToLower(scheme + "://" + u.Host + path), nil
}

// NormalizeTitle 小写、去标点、合并空白
func NormalizeTitle(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			sb.WriteRune(r)
		case unicode.IsSpace(r):
			sb.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// Fingerprint 计算去重键。优先使用规范化 URL，URL 缺失或无效时回退到标题+来源。
// 所有阶段都必须通过该函数取键，避免各处各自拼接导致键不一致。
func Fingerprint(rawURL, title, source string) (string, error) {
	if canonical, err := CanonicalURL(rawURL); err == nil {
		return "url:" + canonical, nil
	}

	normTitle := NormalizeTitle(title)
	normSource := NormalizeTitle(source)
	if normTitle == "" || normSource == "" {
		return "", ErrFingerprintAmbiguous
	}
	return "title:" + normTitle + "|" + normSource, nil
}
