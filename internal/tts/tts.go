// Package tts turns text into speech audio for jobs started without an
// audio file.
package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lipsync-studio/internal/logging"
)

const (
	// DefaultEndpoint is the translate speech endpoint.
	DefaultEndpoint = "https://translate.google.com/translate_tts"
	// MaxChunkRunes is the longest text the endpoint accepts per request.
	MaxChunkRunes = 100

	requestTimeout = 30 * time.Second
)

// ErrEmptyText is returned when there is nothing to speak.
var ErrEmptyText = errors.New("text to synthesize is empty")

// Synthesizer produces audio bytes for text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// GoogleTranslate fetches MP3 speech from the translate endpoint, one
// request per chunk.
type GoogleTranslate struct {
	Endpoint string
	Language string
	Client   *http.Client
	logger   *slog.Logger
}

// NewGoogleTranslate returns a synthesizer for language ("en" if empty).
func NewGoogleTranslate(language string, logger *slog.Logger) *GoogleTranslate {
	if strings.TrimSpace(language) == "" {
		language = "en"
	}
	return &GoogleTranslate{
		Endpoint: DefaultEndpoint,
		Language: language,
		Client:   &http.Client{Timeout: requestTimeout},
		logger:   logging.Component(logger, "tts"),
	}
}

// Synthesize concatenates the MP3 frames returned for every chunk of text.
func (g *GoogleTranslate) Synthesize(ctx context.Context, text string) ([]byte, error) {
	chunks := Chunk(text, MaxChunkRunes)
	if len(chunks) == 0 {
		return nil, ErrEmptyText
	}

	var audio bytes.Buffer
	for i, chunk := range chunks {
		data, err := g.fetch(ctx, chunk, i, len(chunks))
		if err != nil {
			return nil, fmt.Errorf("synthesize chunk %d/%d: %w", i+1, len(chunks), err)
		}
		audio.Write(data)
	}

	g.logger.Info("speech synthesized",
		slog.Int("chunks", len(chunks)),
		slog.Int("bytes", audio.Len()),
		slog.String("language", g.Language),
	)
	return audio.Bytes(), nil
}

func (g *GoogleTranslate) fetch(ctx context.Context, chunk string, idx, total int) ([]byte, error) {
	query := url.Values{}
	query.Set("ie", "UTF-8")
	query.Set("client", "tw-ob")
	query.Set("tl", g.Language)
	query.Set("q", chunk)
	query.Set("total", strconv.Itoa(total))
	query.Set("idx", strconv.Itoa(idx))
	query.Set("textlen", strconv.Itoa(len([]rune(chunk))))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.Endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request speech: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read speech: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty speech response")
	}
	return data, nil
}

// Chunk splits text into pieces of at most limit runes, breaking on
// whitespace where possible. Words longer than limit are split hard.
func Chunk(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxChunkRunes
	}

	var chunks []string
	var current []rune
	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, string(current))
			current = current[:0]
		}
	}

	for _, word := range strings.Fields(text) {
		runes := []rune(word)
		for len(runes) > limit {
			flush()
			chunks = append(chunks, string(runes[:limit]))
			runes = runes[limit:]
		}
		if len(runes) == 0 {
			continue
		}
		if len(current) > 0 && len(current)+1+len(runes) > limit {
			flush()
		}
		if len(current) > 0 {
			current = append(current, ' ')
		}
		current = append(current, runes...)
	}
	flush()
	return chunks
}
