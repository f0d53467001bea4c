package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/vox-agent/backend/internal/config"
	"github.com/zhouzirui/vox-agent/backend/internal/model/voice"
	"github.com/zhouzirui/vox-agent/backend/internal/service/session"
)

// Toolbox 持有一次对话回合可调用的全部工具,
// 凭据来自会话快照, 每个回合构造一次
type Toolbox struct {
	cfg    config.VoiceConfig
	creds  voice.Credentials
	client *http.Client
	tools  map[string]tool
	order  []string
}

type tool struct {
	info *schema.ToolInfo
	run  func(ctx context.Context, sess *session.Session, args string) (string, error)
}

// NewToolbox 创建工具箱, 外部检索类工具使用会话提供的密钥
func NewToolbox(cfg config.VoiceConfig, creds voice.Credentials) *Toolbox {
	tb := &Toolbox{
		cfg:    cfg,
		creds:  creds,
		client: &http.Client{Timeout: 15 * time.Second},
		tools:  make(map[string]tool),
	}

	tb.register(&schema.ToolInfo{
		Name: "get_weather",
		Desc: "Get the current weather for a given city.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"location": {
				Type:     schema.String,
				Desc:     "The city to get the weather for, e.g. Agra",
				Required: true,
			},
		}),
	}, tb.getWeather)

	tb.register(&schema.ToolInfo{
		Name:        "get_time",
		Desc:        "Get the current local time.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
	}, tb.getTime)

	tb.register(&schema.ToolInfo{
		Name: "perform_search",
		Desc: "Search the web for up-to-date information on any topic.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "The search query",
				Required: true,
			},
		}),
	}, tb.performSearch)

	tb.register(&schema.ToolInfo{
		Name: "get_latest_news",
		Desc: "Get the latest news headlines for a topic.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"topic": {
				Type:     schema.String,
				Desc:     "The news topic, e.g. technology",
				Required: true,
			},
		}),
	}, tb.getLatestNews)

	tb.register(&schema.ToolInfo{
		Name: "add_todo",
		Desc: "Add an item to the user's to-do list.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"item": {
				Type:     schema.String,
				Desc:     "The to-do item to add",
				Required: true,
			},
		}),
	}, tb.addTodo)

	tb.register(&schema.ToolInfo{
		Name:        "view_todos",
		Desc:        "View all items on the user's to-do list.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
	}, tb.viewTodos)

	return tb
}

func (tb *Toolbox) register(info *schema.ToolInfo, run func(context.Context, *session.Session, string) (string, error)) {
	tb.tools[info.Name] = tool{info: info, run: run}
	tb.order = append(tb.order, info.Name)
}

// Infos 返回注册顺序稳定的工具定义列表, 用于绑定模型
func (tb *Toolbox) Infos() []*schema.ToolInfo {
	infos := make([]*schema.ToolInfo, 0, len(tb.order))
	for _, name := range tb.order {
		infos = append(infos, tb.tools[name].info)
	}
	return infos
}

// Invoke 执行单个工具调用, 失败时把错误文本交还给模型而不是中断回合
func (tb *Toolbox) Invoke(ctx context.Context, sess *session.Session, name, args string) string {
	t, ok := tb.tools[name]
	if !ok {
		return fmt.Sprintf("unknown tool: %s", name)
	}
	out, err := t.run(ctx, sess, args)
	if err != nil {
		log.Printf("[agent] tool %s failed: %v", name, err)
		return fmt.Sprintf("tool %s failed: %v", name, err)
	}
	return out
}

func (tb *Toolbox) getWeather(_ context.Context, _ *session.Session, args string) (string, error) {
	var params struct {
		Location string `json:"location"`
	}
	if err := json.Unmarshal([]byte(args), &params); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	report := map[string]any{
		"location": params.Location,
		"unit":     "celsius",
	}
	switch strings.ToLower(strings.TrimSpace(params.Location)) {
	case "agra":
		report["temperature"] = 34
		report["description"] = "Hot and sunny"
	case "delhi":
		report["temperature"] = 36
		report["description"] = "Very hot and humid"
	default:
		return fmt.Sprintf("Weather data for %s is not available.", params.Location), nil
	}

	body, err := json.Marshal(report)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (tb *Toolbox) getTime(_ context.Context, _ *session.Session, _ string) (string, error) {
	return fmt.Sprintf("The current time is %s.", time.Now().Format("3:04 PM")), nil
}

func (tb *Toolbox) performSearch(ctx context.Context, _ *session.Session, args string) (string, error) {
	if tb.creds.Tavily == "" {
		return "Tavily API key not provided for this session.", nil
	}

	var params struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(args), &params); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	payload, err := json.Marshal(map[string]any{
		"api_key":      tb.creds.Tavily,
		"query":        params.Query,
		"search_depth": "basic",
		"max_results":  3,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tb.cfg.TavilyBaseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tb.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("search returned status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Results []struct {
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode search response: %w", err)
	}
	if len(result.Results) == 0 {
		return "No search results found.", nil
	}

	var snippets []string
	for _, r := range result.Results {
		snippets = append(snippets, r.Content)
	}
	return strings.Join(snippets, "\n"), nil
}

func (tb *Toolbox) getLatestNews(ctx context.Context, _ *session.Session, args string) (string, error) {
	if tb.creds.GNews == "" {
		return "GNews API key not provided for this session.", nil
	}

	var params struct {
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal([]byte(args), &params); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	url := fmt.Sprintf("%s/top-headlines?q=%s&lang=en&country=in&max=3&apikey=%s",
		tb.cfg.GNewsBaseURL, params.Topic, tb.creds.GNews)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := tb.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("news request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("news returned status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Articles []struct {
			Title string `json:"title"`
		} `json:"articles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode news response: %w", err)
	}
	if len(result.Articles) == 0 {
		return "No news found for that topic.", nil
	}

	var titles []string
	for _, a := range result.Articles {
		titles = append(titles, a.Title)
	}
	return "Latest headlines: " + strings.Join(titles, "; "), nil
}

func (tb *Toolbox) addTodo(_ context.Context, sess *session.Session, args string) (string, error) {
	var params struct {
		Item string `json:"item"`
	}
	if err := json.Unmarshal([]byte(args), &params); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	item := strings.TrimSpace(params.Item)
	if item == "" {
		return "Cannot add an empty to-do item.", nil
	}
	sess.AddTodo(item)
	return fmt.Sprintf("Added %q to your to-do list.", item), nil
}

func (tb *Toolbox) viewTodos(_ context.Context, sess *session.Session, _ string) (string, error) {
	todos := sess.Todos()
	if len(todos) == 0 {
		return "Your to-do list is empty.", nil
	}
	var lines []string
	for i, item := range todos {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, item))
	}
	return "Your to-do list:\n" + strings.Join(lines, "\n"), nil
}
