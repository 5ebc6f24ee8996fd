package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

const scoringInstruction = `You check photos sent to a personality analysis bot.
Rate from 0 to 10 how well the photos show what is asked. 0 means the subject is missing or unreadable.
Reply with JSON only: {"rating": <int>, "reason": "<short reason>"}`

const analysisInstruction = `You write a personality analysis from a face photo, optional palm photos,
four survey answers and the user's description of their feelings. Write in the user's language.
Reply with JSON only:
{"success": true, "full_answer": "<detailed analysis>", "block_hypothesis": "<the main inner block>", "short_summary": "<two or three sentences>"}
If no face is visible reply {"success": false, "error_code": "face_not_detected", "error": "<reason>"}.
If you cannot analyze the material reply {"success": false, "error_code": "ai_analysis_refusal", "error": "<reason>"}.`

// PhotoSource loads stored photos
type PhotoSource interface {
	Download(ctx context.Context, ref string) ([]byte, string, error)
}

// GeminiClient implements photo scoring, full analysis and transcription with Gemini
type GeminiClient struct {
	client *genai.Client
	model  string
	photos PhotoSource
}

// NewGeminiClient creates a new Gemini client
func NewGeminiClient(ctx context.Context, apiKey, model string, photos PhotoSource) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{
		client: client,
		model:  model,
		photos: photos,
	}, nil
}

type ratingResponse struct {
	Rating int    `json:"rating"`
	Reason string `json:"reason"`
}

// ScoreFacePhoto rates how clearly a photo shows a single face
func (g *GeminiClient) ScoreFacePhoto(ctx context.Context, photoRef string) (int, error) {
	return g.score(ctx, []string{photoRef}, "Does this photo clearly show the face of one person?")
}

// ScorePhotoSet rates a burst of photos: one face followed by palms
func (g *GeminiClient) ScorePhotoSet(ctx context.Context, photoRefs []string) (int, error) {
	return g.score(ctx, photoRefs, "The first photo should show a face, the others should show open palms. How well do they?")
}

func (g *GeminiClient) score(ctx context.Context, photoRefs []string, question string) (int, error) {
	parts, err := g.photoParts(ctx, photoRefs)
	if err != nil {
		return 0, err
	}
	parts = append(parts, &genai.Part{Text: question})

	raw, err := g.generate(ctx, scoringInstruction, parts, "application/json")
	if err != nil {
		return 0, err
	}

	var result ratingResponse
	if err := parseModelJSON(raw, &result); err != nil {
		return 0, fmt.Errorf("failed to parse rating: %w", err)
	}

	log.Debug().Int("rating", result.Rating).Str("reason", result.Reason).Int("photos", len(photoRefs)).Msg("Photos scored")
	return result.Rating, nil
}

// RunFullAnalysis runs the full analysis. Model refusals come back as an
// unsuccessful report, transport problems as an error.
func (g *GeminiClient) RunFullAnalysis(ctx context.Context, req AnalysisRequest) (*AnalysisReport, error) {
	parts, err := g.photoParts(ctx, req.PhotoRefs)
	if err != nil {
		return nil, err
	}
	parts = append(parts, &genai.Part{Text: analysisPrompt(req)})

	start := time.Now()
	raw, err := g.generate(ctx, analysisInstruction, parts, "application/json")
	if err != nil {
		return nil, err
	}

	var report AnalysisReport
	if err := parseModelJSON(raw, &report); err != nil {
		return &AnalysisReport{
			Success:   false,
			ErrorCode: AnalysisErrorRefusal,
			Error:     err.Error(),
		}, nil
	}

	log.Info().
		Int64("user_id", req.UserID).
		Bool("success", report.Success).
		Str("error_code", report.ErrorCode).
		Dur("duration", time.Since(start)).
		Msg("Full analysis generated")
	return &report, nil
}

// TranscribeVoice converts a voice message to text
func (g *GeminiClient) TranscribeVoice(ctx context.Context, audio []byte, mimeType, language string) (string, error) {
	if mimeType == "" {
		mimeType = "audio/ogg"
	}
	parts := []*genai.Part{
		{InlineData: &genai.Blob{MIMEType: mimeType, Data: audio}},
		{Text: fmt.Sprintf("Transcribe this voice message word for word. The speaker most likely uses the language %q. Reply with the transcript only.", language)},
	}

	text, err := g.generate(ctx, "", parts, "")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (g *GeminiClient) generate(ctx context.Context, instruction string, parts []*genai.Part, mimeType string) (string, error) {
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: mimeType,
	}
	if instruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: instruction}},
		}
	}

	contents := []*genai.Content{{Role: "user", Parts: parts}}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("received empty response from Gemini API")
	}
	return resp.Text(), nil
}

func (g *GeminiClient) photoParts(ctx context.Context, photoRefs []string) ([]*genai.Part, error) {
	parts := make([]*genai.Part, 0, len(photoRefs)+1)
	for _, ref := range photoRefs {
		data, contentType, err := g.photos.Download(ctx, ref)
		if err != nil {
			return nil, err
		}
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: contentType,
				Data:     data,
			},
		})
	}
	return parts, nil
}

func analysisPrompt(req AnalysisRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User language: %s\n", req.Language)
	b.WriteString("The first photo shows the face, the following ones the palms.\n\n")

	if req.Transcript != "" {
		b.WriteString(req.Transcript)
		return b.String()
	}

	questions := make([]int, 0, len(req.SurveyAnswers))
	for q := range req.SurveyAnswers {
		questions = append(questions, q)
	}
	sort.Ints(questions)
	for _, q := range questions {
		fmt.Fprintf(&b, "Answer %d: %s\n", q, req.SurveyAnswers[q].AnswerText)
	}
	fmt.Fprintf(&b, "\nFeelings: %s\n", req.Feelings)
	return b.String()
}

// parseModelJSON unmarshals a model reply that may be wrapped in markdown fences or prose
func parseModelJSON(raw string, v any) error {
	text := stripMarkdownFences(raw)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end < start {
		return fmt.Errorf("no JSON object found (raw length: %d)", len(raw))
	}

	if err := json.Unmarshal([]byte(text[start:end+1]), v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// stripMarkdownFences removes ```json ... ``` wrapping from text
func stripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return text
	}

	end := len(lines) - 1
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			end = i
			break
		}
	}
	return strings.Join(lines[1:end], "\n")
}
