package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/markdave123-py/textbook-index/internal/cache"
	"github.com/markdave123-py/textbook-index/internal/core"
	"github.com/markdave123-py/textbook-index/internal/core/llm"
	"github.com/markdave123-py/textbook-index/internal/models"
	"github.com/markdave123-py/textbook-index/internal/search"
	apperrors "github.com/markdave123-py/textbook-index/pkg/errors"
	"github.com/markdave123-py/textbook-index/pkg/logger"
)

// Searcher is the read side of the index.
type Searcher interface {
	Search(ctx context.Context, p models.SearchParams) (models.SearchResponse, error)
}

const systemPrompt = "You write science lesson content for school students. " +
	"Prefer the reference textbook content when it covers the topic, keep the language " +
	"suitable for the stated grade and do not invent references."

// ContentRequest asks for lesson content on a topic.
type ContentRequest struct {
	Topic        string `json:"topic"`
	StudyArea    string `json:"studyArea,omitempty"`
	GradeLevel   *int   `json:"gradeLevel,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	SkipCache    bool   `json:"skipCache,omitempty"`
}

// ContentResponse is the generated text and the references it was grounded on.
type ContentResponse struct {
	Content        string                `json:"content"`
	References     []models.SearchResult `json:"references"`
	Cached         bool                  `json:"cached"`
	DegradedReason string                `json:"degradedReason,omitempty"`
}

// ContentService generates lesson content grounded on retrieved chunks.
type ContentService struct {
	search Searcher
	llm    core.LLMProvider
	cache  *cache.TieredCache
	prompt search.PromptOptions
	model  string
}

// NewContentService wires the service. c may be nil to disable caching.
func NewContentService(s Searcher, gen core.LLMProvider, c *cache.TieredCache, prompt search.PromptOptions, model string) *ContentService {
	return &ContentService{search: s, llm: gen, cache: c, prompt: prompt, model: model}
}

// Generate retrieves references for the topic, formats them into the prompt
// and asks the model for content. A retrieval failure degrades to an
// ungrounded prompt; a generation failure is an error.
func (s *ContentService) Generate(ctx context.Context, req ContentRequest) (*ContentResponse, error) {
	req.Topic = strings.TrimSpace(req.Topic)
	req.StudyArea = strings.TrimSpace(req.StudyArea)
	if req.Topic == "" {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "topic is required")
	}
	if s.llm == nil {
		return nil, apperrors.New(apperrors.CodeServiceUnavailable, "no generation model configured")
	}

	key := s.key(req)
	if s.cache != nil && !req.SkipCache {
		if resp, ok := cache.GetJSON[ContentResponse](ctx, s.cache, cache.NamespaceContent, key); ok {
			resp.Cached = true
			return &resp, nil
		}
	}

	resp := &ContentResponse{References: []models.SearchResult{}}
	found, err := s.search.Search(ctx, models.SearchParams{
		Query:      strings.TrimSpace(req.Topic + " " + req.StudyArea),
		TopicTitle: req.Topic,
		StudyArea:  req.StudyArea,
		GradeLevel: req.GradeLevel,
		SkipCache:  req.SkipCache,
	})
	if err != nil {
		logger.Warn(ctx, "content: retrieval failed, generating without references", "error", err.Error())
		resp.DegradedReason = "retrieval failed: " + err.Error()
	} else {
		if found.Results != nil {
			resp.References = found.Results
		}
		resp.DegradedReason = found.DegradedReason
	}

	text, err := s.llm.Generate(ctx, systemPrompt, s.userPrompt(req, resp.References))
	if errors.Is(err, llm.ErrBlocked) {
		return nil, apperrors.Wrap(err, apperrors.CodeGenerationFailed, "the model declined to answer this topic")
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeLLMCallFailed, "content generation failed")
	}
	resp.Content = strings.TrimSpace(text)
	if resp.Content == "" {
		return nil, apperrors.New(apperrors.CodeGenerationFailed, "model returned no content")
	}

	if s.cache != nil && resp.DegradedReason == "" {
		cache.SetJSON(ctx, s.cache, cache.NamespaceContent, key, req.Topic, s.model, resp)
	}
	return resp, nil
}

func (s *ContentService) userPrompt(req ContentRequest, refs []models.SearchResult) string {
	var b strings.Builder
	b.WriteString(search.FormatForPrompt(refs, s.prompt))
	fmt.Fprintf(&b, "TOPIC: %s\n", req.Topic)
	if req.StudyArea != "" {
		fmt.Fprintf(&b, "STUDY AREA: %s\n", req.StudyArea)
	}
	if req.GradeLevel != nil {
		fmt.Fprintf(&b, "GRADE LEVEL: %d\n", *req.GradeLevel)
	}
	if req.Instructions != "" {
		fmt.Fprintf(&b, "\n%s\n", strings.TrimSpace(req.Instructions))
	}
	return b.String()
}

func (s *ContentService) key(req ContentRequest) string {
	grade := ""
	if req.GradeLevel != nil {
		grade = strconv.Itoa(*req.GradeLevel)
	}
	return cache.Key(cache.NamespaceContent, s.model, req.Topic, req.StudyArea, grade, req.Instructions)
}
