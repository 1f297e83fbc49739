package pipeline

import (
	"fmt"
	"strings"
)

const contextSeparator = "\n\n---\n\n"

// AssembledPrompt 检索增强的两种提示词形态：enhanced 供直接投喂生成模型，
// metaprompt 保留显式分节标记，便于诊断。上下文为空时 enhanced 退化为
// 原始查询，metaprompt 置空，IsEmpty 标记"无法落地回答"。
type AssembledPrompt struct {
	Enhanced   string
	Metaprompt string
	IsEmpty    bool
}

// AssemblePrompt 由上下文文本列表与查询构建提示词
func AssemblePrompt(query string, contexts []string) AssembledPrompt {
	if len(contexts) == 0 {
		return AssembledPrompt{
			Enhanced:   query,
			Metaprompt: "",
			IsEmpty:    true,
		}
	}

	contextString := strings.Join(contexts, contextSeparator)

	metaprompt := fmt.Sprintf(`
请基于以下参考信息回答问题。如果参考信息中没有相关内容，请说明无法找到相关信息。

[参考信息]:
%s

[用户问题]:
%s

[请回答]:
`, contextString, query)

	enhanced := fmt.Sprintf(`基于以下参考信息回答问题：

参考信息：
%s

问题：%s

请根据上述参考信息回答：`, contextString, query)

	return AssembledPrompt{Enhanced: enhanced, Metaprompt: metaprompt}
}
