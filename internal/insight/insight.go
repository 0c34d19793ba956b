// Package insight 从单条孩子提问中提取主题、学习意图与预估投入时长。纯函数，无 I/O。
package insight

import (
	"math"
	"regexp"
	"strings"
)

// 预估时长的上下限（秒）
const (
	MinEngagementSeconds = 30
	MaxEngagementSeconds = 300
)

type topicKeywords struct {
	topic    string
	keywords []string
}

// topicTable 顺序即并列时的优先级。
var topicTable = []topicKeywords{
	{"Marine biology", []string{"ocean", "sea", "fish", "whale", "shark", "dolphin", "coral", "marine", "underwater", "octopus", "jellyfish", "seaweed"}},
	{"Space exploration", []string{"space", "planet", "star", "moon", "rocket", "astronaut", "galaxy", "universe", "mars", "jupiter", "saturn", "nasa"}},
	{"Dinosaurs", []string{"dinosaur", "t-rex", "fossil", "prehistoric", "jurassic", "cretaceous", "raptor", "triceratops", "brontosaurus"}},
	{"Animals", []string{"animal", "dog", "cat", "bird", "lion", "tiger", "elephant", "zoo", "pet", "mammal", "reptile"}},
	{"Science experiments", []string{"experiment", "chemical", "reaction", "lab", "hypothesis", "scientific", "test", "observe"}},
	{"Mathematics", []string{"math", "number", "equation", "multiply", "divide", "add", "subtract", "fraction", "geometry", "algebra"}},
	{"Creative writing", []string{"story", "write", "poem", "character", "plot", "narrative", "fiction", "author", "book"}},
	{"History", []string{"history", "ancient", "war", "civilization", "empire", "historical", "century", "medieval"}},
	{"Geography", []string{"country", "continent", "map", "mountain", "river", "climate", "geography", "capital", "population"}},
	{"Technology", []string{"computer", "robot", "coding", "program", "internet", "software", "digital", "ai", "machine"}},
	{"Music", []string{"music", "song", "instrument", "melody", "rhythm", "band", "piano", "guitar", "sing"}},
	{"Art", []string{"art", "paint", "draw", "color", "artist", "sculpture", "canvas", "creative"}},
	{"Sports", []string{"sport", "game", "ball", "team", "score", "player", "soccer", "basketball", "tennis"}},
	{"Nature", []string{"tree", "flower", "forest", "plant", "nature", "garden", "leaf", "grow"}},
	{"Weather", []string{"weather", "rain", "snow", "cloud", "sun", "storm", "climate", "temperature", "wind"}},
	{"Chess", []string{"chess", "checkmate", "bishop", "knight", "rook", "pawn", "strategy", "opening"}},
	{"Cooking", []string{"cook", "recipe", "food", "bake", "ingredient", "kitchen", "meal"}},
	{"Language", []string{"language", "word", "grammar", "vocabulary", "speak", "translate", "sentence"}},
}

var learningPatterns = compilePatterns(
	`\bwhy\b`,
	`\bhow\b`,
	`\bwhat makes\b`,
	`\bwhat causes\b`,
	`\bexplain\b`,
	`\bunderstand\b`,
	`\bwhat happens\b`,
	`\bwhat is the reason\b`,
	`\bwhat if\b`,
	`\bcould you explain\b`,
	`\bcan you explain\b`,
	`\btell me about\b`,
	`\bteach me\b`,
	`\bhelp me understand\b`,
)

func compilePatterns(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`(?i)`+p))
	}
	return out
}

// Result 单条消息的提取结果。Topic 为 nil 表示没有命中任何主题。
type Result struct {
	Topic                *string
	IsLearningQuestion   bool
	EstimatedTimeSeconds int
}

// Extract 分析一条提问，response 为与之配对的助手回复（没有则传空串）。
func Extract(message, response string) Result {
	r := Result{
		IsLearningQuestion:   IsLearningQuestion(message),
		EstimatedTimeSeconds: EstimateEngagementTime(message, response),
	}
	if topic, ok := ExtractTopic(message); ok {
		r.Topic = &topic
	}
	return r
}

// ExtractTopic 按关键词子串命中数打分，取最高分主题；同分取表中靠前者。
func ExtractTopic(message string) (string, bool) {
	lowered := strings.ToLower(message)
	best, bestScore := "", 0
	for _, entry := range topicTable {
		score := 0
		for _, kw := range entry.keywords {
			if strings.Contains(lowered, kw) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = entry.topic, score
		}
	}
	return best, bestScore > 0
}

// IsLearningQuestion 是否为探究类提问（why/how/explain 等）。
func IsLearningQuestion(message string) bool {
	for _, re := range learningPatterns {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}

// EstimateEngagementTime 提问按每 10 词 5 秒，阅读回复按每 10 词 3 秒，四舍五入后限制在 [30, 300]。
func EstimateEngagementTime(question, response string) int {
	questionWords := len(strings.Fields(question))
	responseWords := len(strings.Fields(response))

	seconds := float64(questionWords)/10*5 + float64(responseWords)/10*3
	estimate := int(math.Round(seconds))
	if estimate < MinEngagementSeconds {
		return MinEngagementSeconds
	}
	if estimate > MaxEngagementSeconds {
		return MaxEngagementSeconds
	}
	return estimate
}
