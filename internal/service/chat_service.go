// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"intranet-assistant-go/internal/config"
	"intranet-assistant-go/internal/model"
	"intranet-assistant-go/internal/pipeline"
	"intranet-assistant-go/pkg/cms"
	"intranet-assistant-go/pkg/cost"
	"intranet-assistant-go/pkg/llm"
	"intranet-assistant-go/pkg/log"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// EndOfJSON 分隔流开头的 JSON 头与后续的回答文本。
const EndOfJSON = "<END_OF_JSON>"

const defaultAnswerPrompt = `Du är en AI-assistent som hjälper anställda med frågor om intranätet.

Här är information som skulle kunna vara till hjälp:
{documents}

Om du använder dokument, hänvisa alltid med länk till källan.
Just nu är det {now}.
Reply in the same language as: {question}.`

const defaultRewritePrompt = `Formulera en kort och sökbar fråga baserat på användarens senaste fråga.
Tidigare frågor: "{history}".
Svara med en rad i CSV-format: Fråga,Nyckelord1,Nyckelord2`

var emojiPattern = regexp.MustCompile("[" +
	`\x{1F600}-\x{1F64F}` +
	`\x{1F300}-\x{1F5FF}` +
	`\x{1F680}-\x{1F6FF}` +
	`\x{1F700}-\x{1F77F}` +
	`\x{1F900}-\x{1F9FF}` +
	`\x{2600}-\x{27BF}` +
	`\x{1F1E0}-\x{1F1FF}` +
	"]+")

// RemoveEmojis 去掉文本中的表情符号，保存到 CMS 前使用。
func RemoveEmojis(text string) string {
	return emojiPattern.ReplaceAllString(text, "")
}

// ChatStore 是聊天记录与累计成本的存储。
type ChatStore interface {
	CreateChat(ctx context.Context) (string, error)
	SaveMessage(ctx context.Context, msg cms.Message) error
	GetChatCost(ctx context.Context, chatID string) (float64, error)
	UpdateChatCost(ctx context.Context, chatID string, costUSD float64) error
}

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	// Generate 检索相关分块并把回答流式写入 w。第一帧是 {"chat_id": ...} 加 EndOfJSON 分隔行。
	Generate(ctx context.Context, req model.ChatRequest, w llm.MessageWriter) error
}

type chatService struct {
	searchService SearchService
	llmClient     llm.Client
	chatStore     ChatStore
	prompts       *config.PromptStore
	costModel     *cost.Model
	cfg           config.ChatConfig
	loc           *time.Location
	now           func() time.Time
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(searchService SearchService, llmClient llm.Client, chatStore ChatStore, prompts *config.PromptStore,
	costModel *cost.Model, cfg config.ChatConfig, loc *time.Location) ChatService {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 12
	}
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = 1000
	}
	if loc == nil {
		loc = time.Local
	}
	return &chatService{
		searchService: searchService,
		llmClient:     llmClient,
		chatStore:     chatStore,
		prompts:       prompts,
		costModel:     costModel,
		cfg:           cfg,
		loc:           loc,
		now:           time.Now,
	}
}

func (s *chatService) Generate(ctx context.Context, req model.ChatRequest, w llm.MessageWriter) error {
	if strings.TrimSpace(req.UserInput) == "" {
		return fmt.Errorf("%w: user_input is required", pipeline.ErrInvalidArgument)
	}

	// 只有带 chat_id 的请求才沿用历史
	chatID := req.ChatID
	var history []model.ChatMessage
	if chatID != "" {
		history = req.UserHistory
		if len(history) > s.cfg.MaxHistory {
			history = history[len(history)-s.cfg.MaxHistory:]
		}
	}
	var costUSD float64

	// 1. 改写查询
	question, keywords, rewriteCost, err := s.rewriteQuery(ctx, req.UserInput, history)
	if err != nil {
		return err
	}
	costUSD += rewriteCost
	log.Infof("[ChatService] 改写后的问题: %s, 关键词: %v", question, keywords)

	// 2. 检索
	hits, embedTokens, err := s.searchService.Search(ctx, question, keywords)
	if err != nil {
		return err
	}
	if embedTokens <= 0 {
		embedTokens = s.costModel.TokenCount(question)
	}
	costUSD += s.costModel.EmbeddingCost(embedTokens)

	// 3. 组装消息
	messages := s.composeMessages(req.UserInput, history, hits)

	// 4. 新对话在 CMS 中创建聊天
	if chatID == "" || len(history) == 0 {
		newID, err := s.chatStore.CreateChat(ctx)
		if err != nil {
			log.Errorf("[ChatService] 创建聊天失败: %v", err)
			chatID = ""
		} else {
			chatID = newID
			log.Infof("[ChatService] 新聊天已创建, chat_id: %s", chatID)
		}
	}

	// 5. 流式输出
	if err := writeHeader(w, chatID); err != nil {
		return err
	}
	answer := &strings.Builder{}
	interceptor := &answerInterceptor{writer: w, answer: answer}
	usage, err := s.llmClient.StreamChatMessages(ctx, messages, nil, interceptor)
	if err != nil {
		return fmt.Errorf("%w: %w", pipeline.ErrUpstreamUnavailable, err)
	}
	inTokens, outTokens := usage.PromptTokens, usage.CompletionTokens
	if inTokens == 0 {
		inTokens = s.costModel.ChatTokenCount(messagesText(messages))
	}
	if outTokens == 0 {
		outTokens = s.costModel.ChatTokenCount(answer.String())
	}
	costUSD += s.costModel.ChatCost(inTokens, outTokens)

	// 6. 保存消息与成本；客户端断开后仍然执行
	if chatID != "" {
		s.persist(context.WithoutCancel(ctx), chatID, req.UserInput, answer.String(), costUSD)
	}
	return nil
}

// rewriteQuery 让 LLM 根据当前与先前的提问生成检索问题与关键词。
func (s *chatService) rewriteQuery(ctx context.Context, input string, history []model.ChatMessage) (string, []string, float64, error) {
	var combo strings.Builder
	for _, m := range history {
		if m.Role == "user" {
			combo.WriteString(",")
			combo.WriteString(m.Content)
		}
	}
	previous := truncateRunes(combo.String(), s.cfg.MaxInputChars)

	template := s.prompts.Get().QueryRewrite
	if template == "" {
		template = defaultRewritePrompt
	}
	messages := []llm.Message{
		{Role: "system", Content: strings.ReplaceAll(template, "{history}", previous)},
		{Role: "user", Content: input},
	}
	out, usage, err := s.llmClient.Complete(ctx, messages, nil)
	if err != nil {
		return "", nil, 0, fmt.Errorf("%w: 查询改写失败: %w", pipeline.ErrUpstreamUnavailable, err)
	}
	inTokens, outTokens := usage.PromptTokens, usage.CompletionTokens
	if inTokens == 0 {
		inTokens = s.costModel.ChatTokenCount(messagesText(messages))
	}
	if outTokens == 0 {
		outTokens = s.costModel.ChatTokenCount(out)
	}

	question, keywords := ParseRewrite(out)
	if question == "" {
		question = input
	}
	return question, keywords, s.costModel.ChatCost(inTokens, outTokens), nil
}

// ParseRewrite 解析 "问题,关键词1,关键词2" 形式的改写结果。
func ParseRewrite(out string) (string, []string) {
	var parts []string
	for _, p := range strings.Split(out, ",") {
		p = strings.Trim(strings.TrimSpace(p), `"`)
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}

func (s *chatService) composeMessages(input string, history []model.ChatMessage, hits []model.SearchHit) []llm.Message {
	var docs strings.Builder
	for _, h := range hits {
		score := fmt.Sprintf("%v", h.Score)
		if h.Keyword {
			score = "Keyword Match"
		}
		fmt.Fprintf(&docs, "Dokument:\n%s\nURL: %s\nLikhetsscore: %s\n\n", h.Content, h.URL, score)
	}

	template := s.prompts.Get().Answer
	if template == "" {
		template = defaultAnswerPrompt
	}
	system := strings.NewReplacer(
		"{documents}", docs.String(),
		"{now}", model.LocalTime(s.now().In(s.loc).Truncate(time.Second)).String(),
		"{question}", input,
	).Replace(template)

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: system})
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: input})
	return msgs
}

func (s *chatService) persist(ctx context.Context, chatID, prompt, answer string, costUSD float64) {
	err := s.chatStore.SaveMessage(ctx, cms.Message{
		ChatID:   chatID,
		Prompt:   RemoveEmojis(prompt),
		Response: RemoveEmojis(answer),
	})
	if err != nil {
		log.Errorf("[ChatService] 保存消息失败, chat_id: %s, Error: %v", chatID, err)
	}

	total, err := s.chatStore.GetChatCost(ctx, chatID)
	if err != nil {
		log.Errorf("[ChatService] 读取聊天成本失败, chat_id: %s, Error: %v", chatID, err)
		return
	}
	if err := s.chatStore.UpdateChatCost(ctx, chatID, total+costUSD); err != nil {
		log.Errorf("[ChatService] 更新聊天成本失败, chat_id: %s, Error: %v", chatID, err)
		return
	}
	log.Infof("[ChatService] 聊天成本已更新, chat_id: %s, 本次: %.6f USD", chatID, costUSD)
}

func writeHeader(w llm.MessageWriter, chatID string) error {
	var id interface{}
	if chatID != "" {
		id = chatID
	}
	header, err := json.Marshal(map[string]interface{}{"chat_id": id})
	if err != nil {
		return err
	}
	return w.WriteMessage(websocket.TextMessage, []byte(string(header)+"\n"+EndOfJSON+"\n"))
}

func messagesText(messages []llm.Message) string {
	b, _ := json.Marshal(messages)
	return string(b)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// answerInterceptor 在转发分块的同时收集完整回答。
type answerInterceptor struct {
	writer llm.MessageWriter
	answer *strings.Builder
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *answerInterceptor) WriteMessage(messageType int, data []byte) error {
	w.answer.Write(data)
	return w.writer.WriteMessage(messageType, data)
}
