package service

import (
	"context"
	"strings"

	"kidsafe-go/pkg/llm"
	"kidsafe-go/pkg/log"
)

const (
	titleMaxWords       = 7
	titlePromptMessages = 3
	titlePromptChars    = 500
)

const titleSystemPrompt = `You write short titles for children's chat conversations.
Reply with a title of 3 to 7 words that describes what the child is asking about.
Reply with the title only, no quotes and no punctuation at the end.

Examples:
Messages: "why is the sky blue" | "what makes sunsets red"
Title: Why The Sky Is Blue

Messages: "how do volcanoes work" | "can a volcano explode underwater"
Title: How Volcanoes Work

Messages: "tell me about dinosaurs" | "which dinosaur was the biggest"
Title: Learning About Dinosaurs`

// fallbackTitles 按顺序匹配，第一个命中的关键词决定标题。
var fallbackTitles = []struct {
	keyword string
	title   string
}{
	{"dinosaur", "Learning About Dinosaurs"},
	{"space", "Exploring Space"},
	{"planet", "Exploring Planets"},
	{"star", "Stars and the Sky"},
	{"animal", "Amazing Animals"},
	{"ocean", "Ocean Adventures"},
	{"shark", "All About Sharks"},
	{"math", "Math Questions"},
	{"science", "Science Questions"},
	{"history", "History Questions"},
	{"music", "Music Talk"},
	{"art", "Art and Drawing"},
	{"weather", "Weather Questions"},
	{"robot", "Robots and Technology"},
	{"computer", "Computers and Technology"},
	{"story", "Story Time"},
	{"volcano", "Volcanoes and Earth"},
	{"body", "The Human Body"},
	{"food", "Food and Cooking"},
	{"sport", "Sports Talk"},
}

// TitleGenerator 根据会话前几条 user 消息生成简短标题，不会失败。
type TitleGenerator interface {
	Generate(ctx context.Context, userMessages []string) string
}

type titleGenerator struct {
	provider llm.Provider
}

// NewTitleGenerator provider 为 nil 或 mock 时只使用关键词兜底。
func NewTitleGenerator(provider llm.Provider) TitleGenerator {
	return &titleGenerator{provider: provider}
}

func (g *titleGenerator) Generate(ctx context.Context, userMessages []string) string {
	if len(userMessages) == 0 {
		return ""
	}
	if g.provider != nil && g.provider.Name() != "mock" {
		title, err := g.provider.Generate(ctx, buildTitlePrompt(userMessages), nil,
			llm.WithSystemPrompt(titleSystemPrompt),
			llm.WithMaxTokens(20),
			llm.WithTemperature(0.3),
		)
		if err != nil {
			log.Warnf("[TitleGenerator] AI 生成标题失败，使用关键词兜底: %v", err)
		} else if title = cleanTitle(title); title != "" {
			return title
		}
	}
	return fallbackTitle(userMessages)
}

func buildTitlePrompt(userMessages []string) string {
	if len(userMessages) > titlePromptMessages {
		userMessages = userMessages[:titlePromptMessages]
	}
	quoted := make([]string, len(userMessages))
	for i, m := range userMessages {
		quoted[i] = `"` + m + `"`
	}
	combined := strings.Join(quoted, " | ")
	if r := []rune(combined); len(r) > titlePromptChars {
		combined = string(r[:titlePromptChars])
	}
	return "Messages: " + combined + "\nTitle:"
}

// cleanTitle 去掉首尾引号与空白，并截断到最多 7 个词。
func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.TrimPrefix(title, "Title:")
	title = strings.Trim(strings.TrimSpace(title), "\"'`“”‘’")
	words := strings.Fields(title)
	if len(words) > titleMaxWords {
		words = words[:titleMaxWords]
	}
	return strings.Join(words, " ")
}

func fallbackTitle(userMessages []string) string {
	combined := strings.ToLower(strings.Join(userMessages, " "))
	for _, entry := range fallbackTitles {
		if strings.Contains(combined, entry.keyword) {
			return entry.title
		}
	}
	return userMessages[0]
}
