package model

// 各层级产生回复时使用的意图名。
const (
	IntentBackendFallback = "backend_fallback"
	IntentLocalLLM        = "local_llm"
	IntentKnowledge       = "knowledge"
)

// Result 是一次回复的描述，既是检索增强服务的返回值，也是返回给调用方的结果。
type Result struct {
	Message          string                 `json:"message,omitempty"`
	Intent           string                 `json:"intent,omitempty"`
	Action           interface{}            `json:"action,omitempty"`
	RequiresFollowUp bool                   `json:"requiresFollowUp,omitempty"`
	PartialData      map[string]interface{} `json:"partialData,omitempty"`
	MissingFields    []string               `json:"missingFields,omitempty"`
}

// Action 是意图补全后交给 UI 执行的动作。
type Action struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data,omitempty"`
}
