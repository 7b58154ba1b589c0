package service

import (
	"context"
	"fmt"
	"pai-assistant-go/internal/config"
	"pai-assistant-go/internal/model"
	"pai-assistant-go/pkg/log"
	"regexp"
	"strings"
)

// KnowledgeService 是检索增强层背后的服务：先识别需要收集字段的意图，
// 没有命中意图时再到知识库检索。
type KnowledgeService interface {
	ProcessQuery(ctx context.Context, text string, profile map[string]interface{}) (*model.Result, error)
	ProcessFollowUpResponse(ctx context.Context, text string, pending model.PendingFollowUp, profile map[string]interface{}) (*model.Result, error)
}

type intentDef struct {
	name         string
	keywords     []string
	required     []string
	patterns     map[string]*regexp.Regexp
	prompts      map[string]string
	confirmation string
	action       string
}

type knowledgeService struct {
	intents   []intentDef
	byName    map[string]*intentDef
	retriever Retriever
	topK      int
	minScore  float64
}

// NewKnowledgeService 根据配置创建 KnowledgeService。retriever 为 nil 时只做意图识别。
func NewKnowledgeService(cfg config.RAGConfig, retriever Retriever) (KnowledgeService, error) {
	s := &knowledgeService{
		byName:    make(map[string]*intentDef, len(cfg.Intents)),
		retriever: retriever,
		topK:      cfg.TopK,
		minScore:  cfg.MinScore,
	}
	for _, ic := range cfg.Intents {
		def := intentDef{
			name:         ic.Name,
			required:     ic.RequiredFields,
			patterns:     make(map[string]*regexp.Regexp, len(ic.FieldPatterns)),
			prompts:      ic.Prompts,
			confirmation: ic.Confirmation,
			action:       ic.Action,
		}
		for _, kw := range ic.Keywords {
			def.keywords = append(def.keywords, strings.ToLower(kw))
		}
		for field, expr := range ic.FieldPatterns {
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern for intent %s field %s: %w", ic.Name, field, err)
			}
			def.patterns[field] = re
		}
		s.intents = append(s.intents, def)
	}
	for i := range s.intents {
		s.byName[s.intents[i].name] = &s.intents[i]
	}
	return s, nil
}

// ProcessQuery 按配置顺序匹配意图，未命中时检索知识库。
// 知识库没有足够相关的结果时返回 (nil, nil)，由调用方落到下一层。
func (s *knowledgeService) ProcessQuery(ctx context.Context, text string, profile map[string]interface{}) (*model.Result, error) {
	if def := s.matchIntent(text); def != nil {
		data := make(map[string]interface{})
		for _, field := range def.required {
			if v, ok := profile[field]; ok && !isBlank(v) {
				data[field] = v
			}
		}
		def.extract(text, def.required, data)
		log.Infof("[KnowledgeService] 命中意图: %s, 已收集字段: %d/%d", def.name, len(data), len(def.required))
		return def.resolve(data), nil
	}

	if s.retriever == nil {
		return nil, nil
	}
	hits, err := s.retriever.Search(ctx, text, s.topK)
	if err != nil {
		return nil, fmt.Errorf("knowledge search failed: %w", err)
	}
	relevant := hits[:0:0]
	for _, h := range hits {
		if h.Score >= s.minScore && strings.TrimSpace(h.TextContent) != "" {
			relevant = append(relevant, h)
		}
	}
	if len(relevant) == 0 {
		log.Infof("[KnowledgeService] 知识库无相关结果, query: '%s'", text)
		return nil, nil
	}

	sources := make([]string, 0, len(relevant))
	for _, h := range relevant {
		sources = append(sources, h.Source)
	}
	return &model.Result{
		Message: strings.TrimSpace(relevant[0].TextContent),
		Intent:  model.IntentKnowledge,
		Action: model.Action{
			Type: "show_sources",
			Data: map[string]interface{}{"sources": sources},
		},
	}, nil
}

// ProcessFollowUpResponse 用新的输入补全待处理意图。
// 上一轮追问的是第一个缺失字段，模式未能提取时整句输入即为该字段的值。
func (s *knowledgeService) ProcessFollowUpResponse(_ context.Context, text string, pending model.PendingFollowUp, _ map[string]interface{}) (*model.Result, error) {
	def, ok := s.byName[pending.Intent]
	if !ok {
		return nil, fmt.Errorf("unknown follow-up intent %q", pending.Intent)
	}
	data := make(map[string]interface{}, len(pending.PartialData)+1)
	for k, v := range pending.PartialData {
		data[k] = v
	}
	def.extract(text, pending.MissingFields, data)
	if len(pending.MissingFields) > 0 {
		asked := pending.MissingFields[0]
		if _, filled := data[asked]; !filled {
			if answer := strings.TrimSpace(text); answer != "" {
				data[asked] = answer
			}
		}
	}
	return def.resolve(data), nil
}

func (s *knowledgeService) matchIntent(text string) *intentDef {
	lower := strings.ToLower(text)
	for i := range s.intents {
		for _, kw := range s.intents[i].keywords {
			if kw != "" && strings.Contains(lower, kw) {
				return &s.intents[i]
			}
		}
	}
	return nil
}

// extract 用字段模式从文本中提取 fields 中尚未收集的字段。
func (d *intentDef) extract(text string, fields []string, data map[string]interface{}) {
	for _, field := range fields {
		if _, ok := data[field]; ok {
			continue
		}
		re, ok := d.patterns[field]
		if !ok {
			continue
		}
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		value := m[0]
		if len(m) > 1 && m[1] != "" {
			value = m[1]
		}
		if value = strings.TrimSpace(value); value != "" {
			data[field] = value
		}
	}
}

func (d *intentDef) resolve(data map[string]interface{}) *model.Result {
	var missing []string
	for _, field := range d.required {
		if v, ok := data[field]; !ok || isBlank(v) {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return &model.Result{
			Message:          d.prompt(missing[0]),
			Intent:           d.name,
			RequiresFollowUp: true,
			PartialData:      data,
			MissingFields:    missing,
		}
	}
	return &model.Result{
		Message: d.confirm(data),
		Intent:  d.name,
		Action:  model.Action{Type: d.action, Data: data},
	}
}

func (d *intentDef) prompt(field string) string {
	if p := d.prompts[field]; p != "" {
		return p
	}
	return fmt.Sprintf("Please tell me the %s.", strings.ReplaceAll(field, "_", " "))
}

func (d *intentDef) confirm(data map[string]interface{}) string {
	if d.confirmation == "" {
		return fmt.Sprintf("Done: %s.", strings.ReplaceAll(d.name, "_", " "))
	}
	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{"+k+"}", fmt.Sprint(v))
	}
	return strings.NewReplacer(pairs...).Replace(d.confirmation)
}

func isBlank(v interface{}) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}
