package planner

import (
	"regexp"
	"strings"

	"github.com/bindevz/tilsoftai/pkg/models"
)

// DefaultLanguage is used when neither the caller nor the conversation
// state declares one.
const DefaultLanguage = "en"

// confirmPattern recognizes the confirm-by-id phrase in a user turn.
var confirmPattern = regexp.MustCompile(`(?i)\bCONFIRM\s+([0-9a-fA-F]{32})\b`)

// systemPrompts keys by language code. Each prompt carries the two
// standing contracts: filters reset on every query, and writes commit
// only through CONFIRM <id>.
var systemPrompts = map[string]string{
	"en": `You are a data assistant for enterprise operations. Answer using the provided tools over the caller's datasets.

Rules:
- Filters never carry over between queries. State every filter explicitly on each tool call.
- Never commit a change directly. Prepare it first, show the plan id to the user, and commit only after the user replies with "CONFIRM <plan id>".
- When a tool returns a datasetId, reuse it for follow-up analytics instead of re-querying.
- Answer in English.`,
	"vi": `Bạn là trợ lý dữ liệu cho nghiệp vụ doanh nghiệp. Trả lời bằng các công cụ được cung cấp trên dữ liệu của người gọi.

Quy tắc:
- Bộ lọc không giữ lại giữa các truy vấn. Nêu rõ mọi bộ lọc trong từng lần gọi công cụ.
- Không bao giờ ghi thay đổi trực tiếp. Chuẩn bị trước, hiển thị mã kế hoạch cho người dùng, và chỉ ghi sau khi người dùng trả lời "CONFIRM <mã kế hoạch>".
- Khi công cụ trả về datasetId, dùng lại nó cho các phân tích tiếp theo thay vì truy vấn lại.
- Trả lời bằng tiếng Việt.`,
}

// synthesisDirectives instruct the final pass: no more tools, and the
// three-section Markdown answer shape.
var synthesisDirectives = map[string]string{
	"en": `You already have tool results; do not call tools.
Write the final answer as Markdown with these sections in order:
1. "## Conclusion / Insight" - the direct answer and what it means.
2. "## Insight Preview" - a small Markdown table with the key figures.
3. "## List Preview" - a Markdown table of the underlying rows, only when list data exists.`,
	"vi": `Bạn đã có kết quả từ công cụ; không gọi công cụ nữa.
Viết câu trả lời cuối cùng bằng Markdown với các phần theo thứ tự:
1. "## Conclusion / Insight" - câu trả lời trực tiếp và ý nghĩa của nó.
2. "## Insight Preview" - bảng Markdown nhỏ với các số liệu chính.
3. "## List Preview" - bảng Markdown các dòng dữ liệu, chỉ khi có dữ liệu danh sách.`,
}

// fallbackMessages are returned when synthesis yields empty content.
var fallbackMessages = map[string]string{
	"en": "I could not produce a summary for this request. The tool results above contain the retrieved data; please rephrase or narrow the question.",
	"vi": "Tôi không thể tạo bản tóm tắt cho yêu cầu này. Kết quả công cụ ở trên chứa dữ liệu đã truy xuất; vui lòng diễn đạt lại hoặc thu hẹp câu hỏi.",
}

// ResolveLanguage picks the first candidate with a known language
// table, comparing by primary subtag.
func ResolveLanguage(candidates ...string) string {
	for _, c := range candidates {
		code := strings.ToLower(strings.TrimSpace(c))
		if code == "" {
			continue
		}
		if i := strings.IndexAny(code, "-_"); i > 0 {
			code = code[:i]
		}
		if _, ok := systemPrompts[code]; ok {
			return code
		}
	}
	return DefaultLanguage
}

func systemPrompt(lang string) string {
	if p, ok := systemPrompts[lang]; ok {
		return p
	}
	return systemPrompts[DefaultLanguage]
}

func synthesisDirective(lang string) string {
	if d, ok := synthesisDirectives[lang]; ok {
		return d
	}
	return synthesisDirectives[DefaultLanguage]
}

func fallbackMessage(lang string) string {
	if m, ok := fallbackMessages[lang]; ok {
		return m
	}
	return fallbackMessages[DefaultLanguage]
}

// ExtractConfirmToken returns the plan id from the most recent user
// message containing a confirm phrase, lowercased, or empty.
func ExtractConfirmToken(messages []models.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != models.RoleUser {
			continue
		}
		if m := confirmPattern.FindStringSubmatch(messages[i].Content); m != nil {
			return strings.ToLower(m[1])
		}
		return ""
	}
	return ""
}
