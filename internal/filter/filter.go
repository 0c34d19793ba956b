// Package filter 实现家长内容规则的判定：输入一条消息与一条规则，输出放行或拦截。
// 本包不做任何 I/O。
package filter

import (
	"regexp"
	"strings"

	"kidsafe-go/internal/model"
)

// MaxMessageLength 清洗后消息的最大字符数。
const MaxMessageLength = 2000

const (
	// ReasonRestricted 屏蔽词命中时的统一提示，不回显具体命中的词。
	ReasonRestricted = "Message contains restricted content. Please rephrase your question."
	// ReasonNoTopics allowlist 模式下未配置任何主题。
	ReasonNoTopics = "No approved topics configured. Contact your parent."
	reasonTopicPrefix = "Message must be about an approved topic: "
)

// Decision 判定结果。Allowed 为 false 时 Reason 非空。
type Decision struct {
	Allowed bool
	Reason  string
}

// Sanitize 去除空字节，将连续空白折叠为单个空格并去掉首尾空白，最后截断到 MaxMessageLength 个字符。
func Sanitize(message string) string {
	message = strings.ReplaceAll(message, "\x00", "")
	message = strings.Join(strings.Fields(message), " ")
	if runes := []rune(message); len(runes) > MaxMessageLength {
		message = string(runes[:MaxMessageLength])
	}
	return strings.TrimSpace(message)
}

// Evaluate 对消息执行规则判定。消息总是先经过 Sanitize。
// rule 由调用方负责提供，nil 视为调用方的前置条件错误。
func Evaluate(message string, rule *model.ContentRule) Decision {
	message = Sanitize(message)
	lowered := strings.ToLower(message)

	if rule.Mode == model.ModeAllowlist {
		return evaluateAllowlist(lowered, rule.Topics)
	}
	return evaluateBlocklist(lowered, rule.Keywords)
}

// evaluateBlocklist 子串匹配，宁可多拦。
func evaluateBlocklist(lowered string, keywords []string) Decision {
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(lowered, kw) {
			return Decision{Allowed: false, Reason: ReasonRestricted}
		}
	}
	return Decision{Allowed: true}
}

// evaluateAllowlist 主题需在单词起始处出现：整词或词前缀均可，词中间出现不算。
// 例如主题 "cat" 匹配 "cat"、"cats"、"category"，不匹配 "bobcat"。
func evaluateAllowlist(lowered string, topics []string) Decision {
	if len(topics) == 0 {
		return Decision{Allowed: false, Reason: ReasonNoTopics}
	}
	for _, topic := range topics {
		if topicMatches(lowered, topic) {
			return Decision{Allowed: true}
		}
	}
	return Decision{Allowed: false, Reason: reasonTopicPrefix + strings.Join(topics, ", ")}
}

// topicMatches 要求主题前面是开头或非字母数字字符，字母按 Unicode 判断。
func topicMatches(lowered, topic string) bool {
	topic = strings.ToLower(strings.TrimSpace(topic))
	if topic == "" {
		return false
	}
	re, err := regexp.Compile(`(?:^|[^\p{L}\p{N}_])` + regexp.QuoteMeta(topic))
	if err != nil {
		return strings.Contains(lowered, topic)
	}
	return re.MatchString(lowered)
}
