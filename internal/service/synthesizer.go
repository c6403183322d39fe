package service

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"research-rag-go/internal/config"
	"research-rag-go/internal/model"
	"research-rag-go/pkg/llm"
	"research-rag-go/pkg/log"
)

// DefaultPromptTemplate 是默认的研究助手提示词。
// 模板可用字段：.Context（检索到的上下文，可能为空）、.Question、.NoResult。
const DefaultPromptTemplate = `You are a Research Assistant tasked with providing detailed summaries of academic articles related to the given context. Please provide a summary of the most relevant articles, including the article title, authors, and year of publication if available. Format your response in markdown. And if you do not have an answer say you don't.
{{if .Context}}Context: {{.Context}}{{else}}Context: {{.NoResult}}
No relevant information was found for this question. Say so plainly instead of guessing.{{end}}
Question: {{.Question}}`

// contextSeparator 分隔上下文中相邻的分块
const contextSeparator = "\n\n"

type promptData struct {
	Context  string
	Question string
	NoResult string
}

// Synthesizer 把检索结果与问题组装成提示词，并调用生成模型得到回答。
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, results []model.RetrievedResult) (*model.Answer, error)
	// BuildPrompt 渲染提示词，同时返回实际放入上下文的结果。
	BuildPrompt(query string, results []model.RetrievedResult) (string, []model.RetrievedResult, error)
}

type synthesizer struct {
	llmClient       llm.Client
	tmpl            *template.Template
	noResultText    string
	maxContextChars int
	gen             *llm.GenerationParams
}

// NewSynthesizer 解析提示词模板并创建 Synthesizer。模板为空时使用 DefaultPromptTemplate。
func NewSynthesizer(llmClient llm.Client, cfg config.LLMConfig) (Synthesizer, error) {
	text := cfg.Prompt.Template
	if strings.TrimSpace(text) == "" {
		text = DefaultPromptTemplate
	}
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, &config.ConfigurationError{Key: "llm.prompt.template", Reason: err.Error()}
	}
	return &synthesizer{
		llmClient:       llmClient,
		tmpl:            tmpl,
		noResultText:    cfg.Prompt.NoResultText,
		maxContextChars: cfg.Prompt.MaxContextChars,
		gen:             llm.ParamsFromConfig(cfg.Generation),
	}, nil
}

// BuildPrompt 按检索顺序拼接上下文，超出上限时先丢弃排名靠后的结果。
func (s *synthesizer) BuildPrompt(query string, results []model.RetrievedResult) (string, []model.RetrievedResult, error) {
	contextText, used := fitContext(results, s.maxContextChars)
	if len(used) < len(results) {
		log.Warnf("[Synthesizer] 上下文超出 %d 字符, 丢弃排名靠后的 %d 个结果, query: '%s'",
			s.maxContextChars, len(results)-len(used), query)
	}

	var sb strings.Builder
	err := s.tmpl.Execute(&sb, promptData{Context: contextText, Question: query, NoResult: s.noResultText})
	if err != nil {
		return "", nil, fmt.Errorf("render prompt: %w", err)
	}
	return sb.String(), used, nil
}

// Synthesize 调用一次生成模型。模型失败时返回 SynthesisError。
func (s *synthesizer) Synthesize(ctx context.Context, query string, results []model.RetrievedResult) (*model.Answer, error) {
	prompt, used, err := s.BuildPrompt(query, results)
	if err != nil {
		return nil, &model.SynthesisError{Query: query, Err: err}
	}

	text, err := s.llmClient.Generate(ctx, prompt, s.gen)
	if err != nil {
		log.Errorf("[Synthesizer] 调用生成模型失败, query: '%s', error: %v", query, err)
		return nil, &model.SynthesisError{Query: query, Err: err}
	}
	if strings.TrimSpace(text) == "" {
		log.Warnf("[Synthesizer] 生成模型返回空回答, query: '%s'", query)
		text = s.noResultText
	}
	return &model.Answer{Text: text, Sources: used}, nil
}

// fitContext 返回拼接后的上下文与被采用的结果。maxChars <= 0 表示不限制；
// 仅第一条结果就超出上限时按字符截断该结果。
func fitContext(results []model.RetrievedResult, maxChars int) (string, []model.RetrievedResult) {
	if len(results) == 0 {
		return "", []model.RetrievedResult{}
	}
	if maxChars <= 0 {
		return joinTexts(results), results
	}

	total := 0
	n := 0
	for i, r := range results {
		size := len([]rune(r.Text))
		if i > 0 {
			size += len([]rune(contextSeparator))
		}
		if total+size > maxChars {
			break
		}
		total += size
		n++
	}
	if n == 0 {
		first := []rune(results[0].Text)
		return string(first[:maxChars]), results[:1]
	}
	return joinTexts(results[:n]), results[:n]
}

func joinTexts(results []model.RetrievedResult) string {
	texts := make([]string, 0, len(results))
	for _, r := range results {
		texts = append(texts, r.Text)
	}
	return strings.Join(texts, contextSeparator)
}
