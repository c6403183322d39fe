package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"research-rag-go/internal/config"
	"research-rag-go/internal/model"
	"research-rag-go/pkg/llm"
	"research-rag-go/pkg/log"
)

// ChatService 定义了问答操作的接口。
type ChatService interface {
	// Answer 依次执行检索与生成。检索失败时降级为兜底回答，生成失败时返回 SynthesisError。
	Answer(ctx context.Context, query string, params RetrieveParams) (*model.Answer, error)
	// StreamAnswer 与 Answer 相同，但把生成结果以 {"chunk":"..."} 帧流式写入 w，最后发送完成通知。
	StreamAnswer(ctx context.Context, query string, params RetrieveParams, w llm.MessageWriter) error
	RetrievalDefaults() RetrieveParams
}

type chatService struct {
	retriever    RetrievalService
	synthesizer  Synthesizer
	llmClient    llm.Client
	gen          *llm.GenerationParams
	noAnswerText string
	noResultText string
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(retriever RetrievalService, synthesizer Synthesizer, llmClient llm.Client, cfg config.LLMConfig) ChatService {
	return &chatService{
		retriever:    retriever,
		synthesizer:  synthesizer,
		llmClient:    llmClient,
		gen:          llm.ParamsFromConfig(cfg.Generation),
		noAnswerText: cfg.Prompt.NoAnswerText,
		noResultText: cfg.Prompt.NoResultText,
	}
}

func (s *chatService) RetrievalDefaults() RetrieveParams {
	return s.retriever.Defaults()
}

// Answer 协调 RAG 流程：embed -> search -> synthesize。
func (s *chatService) Answer(ctx context.Context, query string, params RetrieveParams) (*model.Answer, error) {
	results, err := s.retriever.Retrieve(ctx, query, params)
	if err != nil {
		if degraded, ok := s.degrade(query, err); ok {
			return degraded, nil
		}
		return nil, err
	}
	return s.synthesizer.Synthesize(ctx, query, results)
}

// StreamAnswer 协调 RAG 流程并流式传输 LLM 响应。
func (s *chatService) StreamAnswer(ctx context.Context, query string, params RetrieveParams, w llm.MessageWriter) error {
	results, err := s.retriever.Retrieve(ctx, query, params)
	if err != nil {
		degraded, ok := s.degrade(query, err)
		if !ok {
			return err
		}
		if err := writeChunk(w, degraded.Text); err != nil {
			return err
		}
		return SendCompletion(w)
	}

	prompt, _, err := s.synthesizer.BuildPrompt(query, results)
	if err != nil {
		return &model.SynthesisError{Query: query, Err: err}
	}

	// 包装为 JSON 分块
	interceptor := &wsWriterInterceptor{writer: w}
	err = s.llmClient.StreamChatMessages(ctx, []llm.Message{{Role: "user", Content: prompt}}, s.gen, interceptor)
	if err != nil {
		log.Errorf("[ChatService] 流式生成失败, query: '%s', error: %v", query, err)
		return &model.SynthesisError{Query: query, Err: err}
	}
	if interceptor.written == 0 {
		log.Warnf("[ChatService] 流式生成未返回内容，使用兜底文案, query: '%s'", query)
		if err := writeChunk(w, s.noResultText); err != nil {
			return err
		}
	}
	return SendCompletion(w)
}

// degrade 把 RetrievalError 转换为兜底回答，其他错误原样返回 false。
func (s *chatService) degrade(query string, err error) (*model.Answer, bool) {
	var retrievalErr *model.RetrievalError
	if !errors.As(err, &retrievalErr) {
		return nil, false
	}
	log.Warnw("[ChatService] 检索失败，返回兜底回答", "query", query, "op", retrievalErr.Op, "error", err)
	return &model.Answer{
		Text:     s.noAnswerText,
		Sources:  []model.RetrievedResult{},
		Degraded: true,
	}, true
}

// wsWriterInterceptor 把原始分块包装成 {"chunk":"..."} 再写出。
type wsWriterInterceptor struct {
	writer  llm.MessageWriter
	written int
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	w.written += len(strings.TrimSpace(string(data)))
	b, _ := json.Marshal(map[string]string{"chunk": string(data)})
	return w.writer.WriteMessage(messageType, b)
}

func writeChunk(w llm.MessageWriter, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	b, _ := json.Marshal(map[string]string{"chunk": text})
	return w.WriteMessage(websocket.TextMessage, b)
}

// SendCompletion 发送完成通知 JSON，流式回答与错误帧之后都以它结束。
func SendCompletion(w llm.MessageWriter) error {
	now := time.Now()
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"timestamp": now.UnixMilli(),
		"date":      now.Format("2006-01-02T15:04:05"),
	}
	b, _ := json.Marshal(notif)
	return w.WriteMessage(websocket.TextMessage, b)
}
