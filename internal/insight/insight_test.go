package insight

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_SharksScenario(t *testing.T) {
	r := Extract("Tell me about sharks", "")
	require.NotNil(t, r.Topic)
	assert.Equal(t, "Marine biology", *r.Topic)
	assert.True(t, r.IsLearningQuestion)
	assert.Equal(t, MinEngagementSeconds, r.EstimatedTimeSeconds)
}

func TestExtractTopic(t *testing.T) {
	cases := []struct {
		msg   string
		topic string
		ok    bool
	}{
		{"Why do whales sing?", "Marine biology", true}, // whale 命中海洋，sing 命中音乐，同分取靠前
		{"Rockets to the moon and mars", "Space exploration", true},
		{"How big was a T-Rex fossil", "Dinosaurs", true},
		{"piano and guitar lessons", "Music", true},
		{"hello there", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.msg, func(t *testing.T) {
			topic, ok := ExtractTopic(tc.msg)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.topic, topic)
		})
	}
}

func TestExtractTopic_HighestScoreWins(t *testing.T) {
	// 音乐 3 分(piano, guitar, song) 高于海洋 1 分(fish)
	topic, ok := ExtractTopic("a song about fish on piano and guitar")
	require.True(t, ok)
	assert.Equal(t, "Music", topic)
}

func TestExtractTopic_NoTopicGivesNil(t *testing.T) {
	r := Extract("hello", "hi")
	assert.Nil(t, r.Topic)
}

func TestIsLearningQuestion(t *testing.T) {
	assert.True(t, IsLearningQuestion("Why is the sky blue?"))
	assert.True(t, IsLearningQuestion("HOW do plants grow"))
	assert.True(t, IsLearningQuestion("Can you explain fractions"))
	assert.True(t, IsLearningQuestion("what if the sun disappeared"))
	assert.True(t, IsLearningQuestion("teach me chess"))
	assert.False(t, IsLearningQuestion("I like turtles"))
	// 单词边界：showcase 中的 how 不算
	assert.False(t, IsLearningQuestion("a showcase of art"))
}

func TestEstimateEngagementTime(t *testing.T) {
	words := func(n int) string { return strings.TrimSpace(strings.Repeat("w ", n)) }

	assert.Equal(t, 30, EstimateEngagementTime("hi", ""))
	// 20 词提问 = 10 秒，100 词回复 = 30 秒
	assert.Equal(t, 40, EstimateEngagementTime(words(20), words(100)))
	// 10 词提问 5 秒 + 85 词回复 25.5 秒 = 30.5，四舍五入为 31
	assert.Equal(t, 31, EstimateEngagementTime(words(10), words(85)))
	// 上限
	assert.Equal(t, 300, EstimateEngagementTime(words(100), words(2000)))
}
