package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssemblePrompt_WithContexts(t *testing.T) {
	p := AssemblePrompt("如何初始化客户端？", []string{"上下文一", "上下文二"})

	assert.False(t, p.IsEmpty)

	assert.Contains(t, p.Metaprompt, "[参考信息]:")
	assert.Contains(t, p.Metaprompt, "[用户问题]:")
	assert.Contains(t, p.Metaprompt, "[请回答]:")
	assert.Contains(t, p.Metaprompt, "如何初始化客户端？")
	assert.Contains(t, p.Metaprompt, "上下文一"+contextSeparator+"上下文二")

	assert.Contains(t, p.Enhanced, "基于以下参考信息回答问题：")
	assert.Contains(t, p.Enhanced, "上下文一")
	assert.Contains(t, p.Enhanced, "上下文二")
	assert.True(t, strings.Contains(p.Enhanced, "问题：如何初始化客户端？"))
}

func TestAssemblePrompt_NoContexts(t *testing.T) {
	// 检索为空时 enhanced 退化为原始查询，metaprompt 置空
	p := AssemblePrompt("some question", nil)

	assert.True(t, p.IsEmpty)
	assert.Equal(t, "some question", p.Enhanced)
	assert.Empty(t, p.Metaprompt)

	p = AssemblePrompt("q", []string{})
	assert.True(t, p.IsEmpty)
	assert.Equal(t, "q", p.Enhanced)
}
