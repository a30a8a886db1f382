package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/meriley/lingua-nexus-sub001/internal/language"
	"github.com/meriley/lingua-nexus-sub001/internal/nexuserr"
	"github.com/meriley/lingua-nexus-sub001/internal/postprocess"
)

const openRouterDefaultModel = "meta-llama/llama-3.1-8b-instruct:free"

// OpenRouterTranslator is an instruct-tuned LLM backend behind the
// OpenRouter chat-completions API.
type OpenRouterTranslator struct {
	name    string
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// OpenRouterDescriptor registers an OpenRouter-served model.
func OpenRouterDescriptor(name, apiKey, model string) Descriptor {
	return Descriptor{
		Name:          name,
		Kind:          KindLLMInstructTuned,
		DefaultSource: "en",
		New: func(ctx context.Context) (Translator, error) {
			if apiKey == "" {
				return nil, nexuserr.New(nexuserr.KindModelLoadFailed, "openrouter API key required")
			}
			return NewOpenRouterTranslator(name, apiKey, "", model), nil
		},
	}
}

func NewOpenRouterTranslator(name, apiKey, baseURL, model string) *OpenRouterTranslator {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	if model == "" {
		model = openRouterDefaultModel
	}
	if name == "" {
		name = "openrouter"
	}
	return &OpenRouterTranslator{
		name:    name,
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (s *OpenRouterTranslator) Name() string { return s.name }

func (s *OpenRouterTranslator) Capabilities() Capabilities {
	return Capabilities{
		Languages:          commonLanguageMapping(),
		MaxInputChars:      8000,
		SupportsConfidence: false,
	}
}

func (s *OpenRouterTranslator) Translate(ctx context.Context, text, srcCode, tgtCode string) (*Result, error) {
	if err := checkInput(text, s.Capabilities()); err != nil {
		return nil, err
	}

	src := srcCode
	if src == "" || src == language.Auto {
		src = "the detected language"
	}

	system := buildSystemPrompt(src, tgtCode)
	content, err := s.chat(ctx, system, text)
	if err != nil {
		return nil, err
	}

	return &Result{Text: postprocess.Clean(content)}, nil
}

func (s *OpenRouterTranslator) Detect(ctx context.Context, text string) (string, error) {
	sample := []rune(text)
	if len(sample) > 200 {
		sample = sample[:200]
	}
	content, err := s.chat(ctx,
		"Identify the language of the user's text. Respond with only its two-letter ISO 639-1 code.",
		string(sample))
	if err != nil {
		return "", err
	}
	code := strings.ToLower(postprocess.Clean(content))
	if len(code) != 2 {
		return language.Unknown, nil
	}
	return code, nil
}

func (s *OpenRouterTranslator) Health(ctx context.Context) Health {
	if s.apiKey == "" {
		return Down
	}
	return Ready
}

func (s *OpenRouterTranslator) chat(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model": s.model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"max_tokens": 4096,
	})
	if err != nil {
		return "", nexuserr.Wrap(nexuserr.KindBackendFatal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", nexuserr.Wrap(nexuserr.KindBackendFatal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("X-Title", "lingua-nexus")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", nexuserr.Wrapf(nexuserr.KindBackendTransient, err, "openrouter request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return "", nexuserr.New(classifyStatus(resp.StatusCode),
			"openrouter returned status %d: %v", resp.StatusCode, errResp)
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", nexuserr.Wrapf(nexuserr.KindBackendTransient, err, "failed to decode openrouter response")
	}
	if len(out.Choices) == 0 {
		return "", nexuserr.New(nexuserr.KindBackendTransient, "empty response from openrouter")
	}
	return out.Choices[0].Message.Content, nil
}

func buildSystemPrompt(sourceLang, targetLang string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("You are a professional translator. Translate the following text from %s to %s.\n", sourceLang, targetLang))
	sb.WriteString("Only respond with the translation, nothing else. No explanations, no quotes, just the translation.")
	return sb.String()
}
