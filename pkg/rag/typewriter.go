package rag

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Typing modes.
const (
	TypeChar = "char"
	TypeWord = "word"
)

// Typewriter replays text piece by piece to give the UI a typing effect.
type Typewriter struct {
	Mode  string
	Delay time.Duration
}

func NewTypewriter(mode string, delay time.Duration) (Typewriter, error) {
	switch mode {
	case "":
		mode = TypeChar
	case TypeChar, TypeWord:
	default:
		return Typewriter{}, fmt.Errorf("unknown typing mode: %s", mode)
	}
	return Typewriter{Mode: mode, Delay: delay}, nil
}

// Pieces splits text into runes, or into words that carry the whitespace
// following them. Joining the pieces gives back text unchanged.
func (t Typewriter) Pieces(text string) []string {
	if t.Mode == TypeWord {
		var out []string
		start, inSpace := 0, false
		for i, r := range text {
			if unicode.IsSpace(r) {
				inSpace = true
				continue
			}
			if inSpace {
				out = append(out, text[start:i])
				start, inSpace = i, false
			}
		}
		if start < len(text) {
			out = append(out, text[start:])
		}
		return out
	}

	out := make([]string, 0, len(text))
	for _, r := range text {
		out = append(out, string(r))
	}
	return out
}

// Type calls emit with each piece and the text typed so far, sleeping Delay
// between pieces. It returns the full typed text.
func (t Typewriter) Type(ctx context.Context, text string, emit func(piece, sofar string) error) (string, error) {
	s := t.NewStreamer(emit)
	if err := s.Write(ctx, text); err != nil {
		return s.Text(), err
	}
	err := s.Flush(ctx)
	return s.Text(), err
}

// Streamer types text that arrives in chunks, such as a model stream.
// Pieces never straddle a chunk boundary incorrectly: a word or rune cut
// by the boundary is held back until the rest of it arrives.
type Streamer struct {
	tw      Typewriter
	emit    func(piece, sofar string) error
	pending string
	typed   strings.Builder
	started bool
}

func (t Typewriter) NewStreamer(emit func(piece, sofar string) error) *Streamer {
	return &Streamer{tw: t, emit: emit}
}

// Write types every complete piece of chunk.
func (s *Streamer) Write(ctx context.Context, chunk string) error {
	text := s.pending + chunk
	s.pending = ""

	if s.tw.Mode != TypeWord {
		text, s.pending = splitPartialRune(text)
		return s.typePieces(ctx, s.tw.Pieces(text))
	}

	pieces := s.tw.Pieces(text)
	if n := len(pieces); n > 0 {
		last := pieces[n-1]
		if r, _ := utf8.DecodeLastRuneInString(last); !unicode.IsSpace(r) {
			s.pending = last
			pieces = pieces[:n-1]
		}
	}
	return s.typePieces(ctx, pieces)
}

// Flush types whatever is still held back.
func (s *Streamer) Flush(ctx context.Context) error {
	rest := s.pending
	s.pending = ""
	if rest == "" {
		return nil
	}
	return s.typePieces(ctx, []string{rest})
}

// Text returns everything typed so far.
func (s *Streamer) Text() string {
	return s.typed.String()
}

func (s *Streamer) typePieces(ctx context.Context, pieces []string) error {
	for _, piece := range pieces {
		if s.started && s.tw.Delay > 0 {
			timer := time.NewTimer(s.tw.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		s.started = true

		s.typed.WriteString(piece)
		if err := s.emit(piece, s.typed.String()); err != nil {
			return err
		}
	}
	return nil
}

// splitPartialRune separates a trailing incomplete UTF-8 sequence.
func splitPartialRune(text string) (string, string) {
	i := len(text) - 1
	for i > 0 && len(text)-i < utf8.UTFMax && !utf8.RuneStart(text[i]) {
		i--
	}
	if i >= 0 && !utf8.FullRuneInString(text[i:]) {
		return text[:i], text[i:]
	}
	return text, ""
}
