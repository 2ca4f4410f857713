// Package extractor implements the Signature Extractor (C2): a single-call
// adapter that turns raw message text into a model.Signature via the LLM,
// rate- and budget-limited.
//
// The HTTP shape is hand-rolled directly against net/http, in the teacher's
// style (internal/providers/anthropic.go builds its own request/response
// structs rather than pulling in a provider SDK). The prompts and the
// JSON-tolerant parsing are grounded on original_source/ai.py.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ravidnaor/corrobot/internal/clock"
	"github.com/ravidnaor/corrobot/internal/model"
)

const tracerName = "github.com/ravidnaor/corrobot/internal/extractor"

// MaxInputChars bounds the prompt cost; text beyond this is truncated.
const MaxInputChars = 1500

const extractPrompt = `Extract the key intelligence elements from the following message.
The message may be in Arabic, Hebrew, or English — handle all three.
Normalize location names to their most common English or Arabic form.
Return ONLY valid JSON (no markdown fences, no extra text):
{
  "location": "specific place name or null",
  "region": "broader area (e.g. south lebanon, gaza, west bank, iran) or null",
  "event_type": "one of: strike, rocket, clash, arrest, movement, statement, casualty, other, irrelevant",
  "entities": ["named groups, people, or armed forces mentioned"],
  "keywords": ["2-3 key descriptive terms"],
  "is_urgent": true or false,
  "credibility_indicators": {
    "has_media_reference": true or false,
    "cites_named_source": true or false,
    "uses_vague_language": true or false,
    "is_forwarded_claim": true or false
  }
}
If the message is not about a security/military/political event, return: {"event_type":"irrelevant"}

Message:
`

const summaryPromptTemplate = `סכם בקצרה בעברית את הנקודות העיקריות מההודעות הבאות.
כתוב 2-3 שורות תמציתיות, בלי סגנון כתב חדשות.
אם מספר מקורות מדווחים על אותו אירוע, ציין זאת.
%s

ההודעות:
%s`

const trendPromptTemplate = `סכם במדויק בשורה אחת בעברית את המידע העיקרי שדווח במספר ערוצים.
המטרה – דיווח תמציתי וברור, בלי סגנון כתב חדשות.
לאחר מכן החזר שורה שנייה שמתחילה ב-"> " ומכילה תרגום לעברית של ציטוט מייצג מתוך ההודעה.
אל תכתוב שום דבר מעבר לשתי השורות.

%s

הטקסט המקורי:
%s`

// Client is the Gemini REST-shaped extractor: contents[].parts[].text in,
// candidates[0].content.parts[0].text out.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	clock      clock.Clock
	tracer     trace.Tracer

	budgetHourly int
	limiter      *rate.Limiter // paces call starts (LLM_RPM_LIMIT per second); does not cap calls in flight

	mu           sync.Mutex
	usedThisHour int
	resetAt      time.Time
}

// New constructs a Client. rpmLimit is both the rate (call starts per
// second) and the burst of the limiter; it does not bound how many calls are
// in flight at once. budgetHourly bounds total calls per one-hour window; the
// window restarts once an hour has passed since the last reset.
func New(endpoint, apiKey string, rpmLimit, budgetHourly int, clk clock.Clock) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: 20 * time.Second},
		endpoint:     endpoint,
		apiKey:       apiKey,
		clock:        clk,
		tracer:       otel.Tracer(tracerName),
		budgetHourly: budgetHourly,
		limiter:      rate.NewLimiter(rate.Limit(rpmLimit), rpmLimit),
		resetAt:      clk.Now(),
	}
}

// SetTracer overrides the tracer used for the Extract span. New defaults to
// the global otel tracer, which is a no-op until telemetry.Setup installs a
// real provider.
func (c *Client) SetTracer(t trace.Tracer) {
	c.tracer = t
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type geminiRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// charge reports whether a call is within the hourly budget, resetting the
// counter on an hour boundary read from the injected clock.
func (c *Client) charge() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	if now.Sub(c.resetAt) >= time.Hour {
		c.usedThisHour = 0
		c.resetAt = now
	}
	if c.usedThisHour >= c.budgetHourly {
		return false
	}
	c.usedThisHour++
	return true
}

// call sends prompt and returns the raw model text, or "" on any failure
// (budget exhaustion, transport error, non-2xx, malformed body) — failures
// are isolated and never propagate as an error the caller must handle.
func (c *Client) call(ctx context.Context, prompt string) string {
	if !c.charge() {
		slog.Warn("extractor: llm budget exhausted", "used", c.usedThisHour, "budget", c.budgetHourly)
		return ""
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return ""
	}

	reqBody := geminiRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     0.2,
			MaxOutputTokens: 512,
		},
	}
	buf, err := json.Marshal(reqBody)
	if err != nil {
		slog.Error("extractor: marshal request", "error", err)
		return ""
	}

	url := fmt.Sprintf("%s?key=%s", c.endpoint, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		slog.Error("extractor: build request", "error", err)
		return ""
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("extractor: llm call failed", "error", err)
		return ""
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Error("extractor: read response", "error", err)
		return ""
	}
	if resp.StatusCode >= 300 {
		slog.Error("extractor: llm http error", "status", resp.StatusCode, "body", string(body))
		return ""
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		slog.Error("extractor: unmarshal response", "error", err)
		return ""
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	return strings.TrimSpace(parsed.Candidates[0].Content.Parts[0].Text)
}

// Extract turns text into a model.Signature, or returns (nil, nil) when the
// LLM is unavailable, over budget, returns "irrelevant", or fails to parse —
// none of those are errors in the Go sense; only context cancellation is.
func (c *Client) Extract(ctx context.Context, text string) (*model.Signature, error) {
	ctx, span := c.tracer.Start(ctx, "extractor.extract")
	defer span.End()

	text = clipRunes(text, MaxInputChars)
	raw := c.call(ctx, extractPrompt+text)
	if raw == "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	parsed, err := parseJSONObject(raw)
	if err != nil {
		slog.Warn("extractor: signature parse failed", "error", err, "raw", clipForLog(raw))
		return nil, nil
	}
	var sig model.Signature
	if err := mapToSignature(parsed, &sig); err != nil {
		slog.Warn("extractor: signature decode failed", "error", err)
		return nil, nil
	}
	if sig.EventType == model.EventIrrelevant {
		return nil, nil
	}
	return &sig, nil
}

// SummarizeBatch asks for a concise digest of texts, given a rendered
// authority-context string listing top contributing channels.
func (c *Client) SummarizeBatch(ctx context.Context, texts []string, authorityContext string) string {
	if len(texts) > 20 {
		texts = texts[:20]
	}
	clipped := make([]string, len(texts))
	for i, t := range texts {
		clipped[i] = clipRunes(t, 500)
	}
	blob := strings.Join(clipped, "\n---\n")
	return c.call(ctx, fmt.Sprintf(summaryPromptTemplate, authorityContext, blob))
}

// SummarizeTrend asks for a one-line Hebrew trend summary plus a quoted
// excerpt, given the combined source text of a corroborated event.
func (c *Client) SummarizeTrend(ctx context.Context, text, authorityContext string) string {
	return c.call(ctx, fmt.Sprintf(trendPromptTemplate, authorityContext, clipRunes(text, 800)))
}

func clipRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func clipForLog(s string) string { return clipRunes(s, 200) }

var codeFencePrefix = regexp.MustCompile("(?m)^```(?:json)?\\s*")
var codeFenceSuffix = regexp.MustCompile("(?m)```\\s*$")
var balancedObject = regexp.MustCompile(`(?s)\{.*\}`)

// parseJSONObject mirrors original_source/ai.py:_parse_json — strip code
// fences, try a direct parse, and on failure fall back to the span from the
// first '{' to the last '}' in the cleaned text. Braces are not matched, so
// a reply with a stray '}' after the object, or with two objects, does not
// parse.
func parseJSONObject(raw string) (map[string]interface{}, error) {
	cleaned := codeFencePrefix.ReplaceAllString(raw, "")
	cleaned = codeFenceSuffix.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)

	var out map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &out); err == nil {
		return out, nil
	}
	if m := balancedObject.FindString(cleaned); m != "" {
		if err := json.Unmarshal([]byte(m), &out); err == nil {
			return out, nil
		}
	}
	return nil, fmt.Errorf("no valid JSON object found in LLM output")
}

func mapToSignature(m map[string]interface{}, sig *model.Signature) error {
	buf, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, sig)
}
