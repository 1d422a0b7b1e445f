// Package synthesis contains the orchestration core of the audiobook
// pipeline: the per-chapter sentence loop, the whole-book chapter loop,
// and the progress/cancellation machinery around them.
package synthesis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/audiobook-service/internal/audio"
	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/audiobook-service/internal/text"
)

// Silence durations between synthesized segments. A paragraph break earns
// the longer pause.
const (
	SentencePauseDuration  = 500 * time.Millisecond
	ParagraphPauseDuration = 900 * time.Millisecond
)

// previewRuneLimit caps voice-preview input length.
const previewRuneLimit = 500

const percentComplete = 100.0

// Pipeline drives sentence-level synthesis for one voice. The voice
// identity is resolved once at construction and reused for every segment;
// the silence buffers are likewise allocated once and reused by reference.
type Pipeline struct {
	engine           core.VoiceEngine
	segmenter        core.Segmenter
	voice            core.Voice
	sentenceSilence  []float32
	paragraphSilence []float32
	log              *logger.Logger
}

// NewPipeline resolves the requested voice and prepares a pipeline
// instance. Voice resolution failure (an unusable cloning reference) is
// fatal here: cloning was explicitly requested, so the pipeline must not
// silently degrade to a default voice.
func NewPipeline(
	ctx context.Context,
	engine core.VoiceEngine,
	segmenter core.Segmenter,
	spec core.VoiceSpec,
	log *logger.Logger,
) (*Pipeline, error) {
	voice, err := engine.ResolveVoice(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve voice: %w", err)
	}

	return &Pipeline{
		engine:           engine,
		segmenter:        segmenter,
		voice:            voice,
		sentenceSilence:  audio.Silence(SentencePauseDuration),
		paragraphSilence: audio.Silence(ParagraphPauseDuration),
		log:              log,
	}, nil
}

// GenerateChapter synthesizes one chapter text into a single waveform.
//
// When segmentation yields no spans the whole text is synthesized as one
// segment. Otherwise each sentence is cleaned, synthesized and appended in
// order, followed by the pause selected by the boundary between it and the
// next sentence. onProgress is invoked after every sentence, synthesized or
// skipped, with (i+1)/total*100, so progress reaches exactly 100 regardless
// of how many segments produced audio.
//
// A nil waveform with a nil error means total synthesis failure for the
// chapter. Cancellation is observed at sentence granularity and surfaces as
// core.ErrStopped.
func (p *Pipeline) GenerateChapter(
	ctx context.Context,
	chapterText string,
	onProgress func(percent float64),
) ([]float32, error) {
	if ctx.Err() != nil {
		return nil, core.ErrStopped
	}

	spans := p.segmenter.Segment(chapterText)
	if len(spans) == 0 {
		return p.synthesizeSegment(ctx, chapterText), nil
	}

	var segments [][]float32

	total := len(spans)

	for i, span := range spans {
		if ctx.Err() != nil {
			return nil, core.ErrStopped
		}

		sentence := strings.TrimSpace(span.Text)
		if sentence != "" {
			waveform := p.synthesizeSegment(ctx, sentence)
			if waveform != nil {
				segments = append(segments, waveform)

				if i < total-1 {
					segments = append(segments,
						p.pauseFor(chapterText, span.End, spans[i+1].Start))
				}
			}
		}

		if onProgress != nil {
			onProgress(float64(i+1) / float64(total) * percentComplete)
		}
	}

	if len(segments) == 0 {
		return nil, nil
	}

	return audio.Concat(segments), nil
}

// Preview synthesizes the opening of the given text and returns it as WAV
// bytes, for voice auditioning before a full run.
func (p *Pipeline) Preview(ctx context.Context, previewText string) ([]byte, error) {
	runes := []rune(previewText)
	if len(runes) > previewRuneLimit {
		previewText = string(runes[:previewRuneLimit])
	}

	waveform, err := p.GenerateChapter(ctx, previewText, nil)
	if err != nil {
		return nil, err
	}

	if waveform == nil {
		return nil, ErrNoAudioGenerated
	}

	return audio.EncodeWAV(waveform, core.SampleRate), nil
}

// synthesizeSegment cleans and synthesizes one segment. Engine failures are
// logged and surface as a nil segment (an omission), never as a chapter
// abort.
func (p *Pipeline) synthesizeSegment(ctx context.Context, segment string) []float32 {
	cleaned := text.Normalize(segment)

	waveform, err := p.engine.Synthesize(ctx, p.voice, cleaned)
	if err != nil {
		p.log.Error("Failed to synthesize segment: %v", err)

		return nil
	}

	return waveform
}

// pauseFor selects the cached silence buffer for the boundary between two
// consecutive sentences.
func (p *Pipeline) pauseFor(chapterText string, end, nextStart int) []float32 {
	if text.IsParagraphBreak(chapterText, end, nextStart) {
		return p.paragraphSilence
	}

	return p.sentenceSilence
}
