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

const ollamaDefaultModel = "llama3.2"

// OllamaTranslator is an instruct-tuned LLM backend served by a local
// Ollama instance. Translation goes through a fixed prompt; the raw model
// output is cleaned of LLM artifacts before use.
type OllamaTranslator struct {
	name    string
	baseURL string
	model   string
	client  *http.Client
}

// OllamaDescriptor registers an Ollama-served model. model may be empty,
// in which case a default is used.
func OllamaDescriptor(name, baseURL, model string) Descriptor {
	return Descriptor{
		Name:          name,
		Kind:          KindLLMInstructTuned,
		DefaultSource: "en",
		New: func(ctx context.Context) (Translator, error) {
			t := NewOllamaTranslator(name, baseURL, model)
			// Loading fails fast when the server is unreachable so the
			// registry can park the handle in Failed.
			if err := t.ping(ctx); err != nil {
				return nil, nexuserr.Wrap(nexuserr.KindModelLoadFailed, err)
			}
			return t, nil
		},
	}
}

func NewOllamaTranslator(name, baseURL, model string) *OllamaTranslator {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = ollamaDefaultModel
	}
	if name == "" {
		name = "ollama"
	}
	return &OllamaTranslator{
		name:    name,
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (s *OllamaTranslator) Name() string { return s.name }

func (s *OllamaTranslator) Capabilities() Capabilities {
	return Capabilities{
		Languages:          commonLanguageMapping(),
		MaxInputChars:      4000,
		SupportsConfidence: false,
	}
}

func (s *OllamaTranslator) Translate(ctx context.Context, text, srcCode, tgtCode string) (*Result, error) {
	if err := checkInput(text, s.Capabilities()); err != nil {
		return nil, err
	}

	if srcCode == "" || srcCode == language.Auto {
		srcCode = "the detected language"
	}

	prompt := fmt.Sprintf(`Translate the following text from %s to %s.
Only respond with the translation, nothing else.

Text: "%s"

Translation:`, srcCode, tgtCode, text)

	var out struct {
		Response string `json:"response"`
	}
	if err := s.generate(ctx, prompt, &out); err != nil {
		return nil, err
	}

	return &Result{Text: postprocess.Clean(out.Response)}, nil
}

// Detect asks the model for a two-letter code; unparseable answers map to
// "unknown" so the caller can fall back to the in-process detector.
func (s *OllamaTranslator) Detect(ctx context.Context, text string) (string, error) {
	sample := []rune(text)
	if len(sample) > 200 {
		sample = sample[:200]
	}
	p := fmt.Sprintf(`Identify the language of the following text.
Respond with only its two-letter ISO 639-1 code.

Text: "%s"`, string(sample))

	var out struct {
		Response string `json:"response"`
	}
	if err := s.generate(ctx, p, &out); err != nil {
		return "", err
	}

	code := strings.ToLower(postprocess.Clean(out.Response))
	if len(code) != 2 {
		return language.Unknown, nil
	}
	return code, nil
}

func (s *OllamaTranslator) Health(ctx context.Context) Health {
	if err := s.ping(ctx); err != nil {
		return Down
	}
	return Ready
}

func (s *OllamaTranslator) generate(ctx context.Context, prompt string, out any) error {
	body, err := json.Marshal(map[string]any{
		"model":  s.model,
		"prompt": prompt,
		"stream": false,
	})
	if err != nil {
		return nexuserr.Wrap(nexuserr.KindBackendFatal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nexuserr.Wrap(nexuserr.KindBackendFatal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nexuserr.Wrapf(nexuserr.KindBackendTransient, err, "ollama request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nexuserr.New(classifyStatus(resp.StatusCode), "ollama returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nexuserr.Wrapf(nexuserr.KindBackendTransient, err, "failed to decode ollama response")
	}
	return nil
}

func (s *OllamaTranslator) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama not available: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}
	return nil
}
