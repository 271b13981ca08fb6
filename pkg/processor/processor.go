package processor

import (
	"strings"
	"unicode/utf8"

	"github.com/xhad/deptbot/internal/models"
)

// ProcessorConfig mirrors the chunking knobs of the hosted partitioner so
// locally extracted text is split the same way.
type ProcessorConfig struct {
	MaxCharacters      int // hard limit per chunk
	NewAfterNChars     int // soft limit; a chunk closes once it reaches this
	CombineUnderNChars int // chunks shorter than this merge with the next
	RemoveStopwords    bool
	CustomStopwords    []string
}

type Processor struct {
	config ProcessorConfig
}

// Page is the text of one page of a source document.
type Page struct {
	Number int
	Text   string
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.MaxCharacters <= 0 {
		config.MaxCharacters = 2000
	}
	if config.NewAfterNChars <= 0 || config.NewAfterNChars > config.MaxCharacters {
		config.NewAfterNChars = config.MaxCharacters
	}
	if config.CombineUnderNChars < 0 {
		config.CombineUnderNChars = 0
	}

	return Processor{
		config: config,
	}
}

// Process splits text into chunks.
func (p *Processor) Process(text string) []string {
	return p.combine(p.splitIntoChunks(p.cleanText(text)))
}

// ProcessPages chunks each page and turns the chunks into text elements.
// Small trailing chunks are combined across page boundaries; a merged
// element keeps the page it started on.
func (p *Processor) ProcessPages(pages []Page, source string) []models.Element {
	var elements []models.Element

	for _, page := range pages {
		for _, chunk := range p.splitIntoChunks(p.cleanText(page.Text)) {
			elements = append(elements, models.Element{
				Type:    models.ElementText,
				Content: chunk,
				Page:    page.Number,
				Source:  source,
			})
		}
	}

	var combined []models.Element
	for _, el := range elements {
		if n := len(combined); n > 0 {
			last := &combined[n-1]
			if size(last.Content) < p.config.CombineUnderNChars &&
				size(last.Content)+1+size(el.Content) <= p.config.MaxCharacters {
				last.Content = last.Content + " " + el.Content
				continue
			}
		}
		combined = append(combined, el)
	}

	return combined
}

func (p *Processor) cleanText(text string) string {
	// Replace multiple spaces with single space
	text = strings.Join(strings.Fields(text), " ")

	// Remove stopwords if configured
	if p.config.RemoveStopwords {
		text = p.removeStopwords(text)
	}

	return strings.TrimSpace(text)
}

func (p *Processor) splitIntoChunks(text string) []string {
	var chunks []string
	currentChunk := strings.Builder{}

	flush := func() {
		if s := strings.TrimSpace(currentChunk.String()); s != "" {
			chunks = append(chunks, s)
		}
		currentChunk.Reset()
	}

	for _, sentence := range p.splitIntoSentences(text) {
		for _, piece := range p.hardSplit(sentence) {
			// If adding this piece would exceed the hard limit
			if currentChunk.Len() > 0 && size(currentChunk.String())+1+size(piece) > p.config.MaxCharacters {
				flush()
			}
			if currentChunk.Len() > 0 {
				currentChunk.WriteString(" ")
			}
			currentChunk.WriteString(piece)

			if size(currentChunk.String()) >= p.config.NewAfterNChars {
				flush()
			}
		}
	}
	flush()

	return chunks
}

func (p *Processor) combine(chunks []string) []string {
	var out []string
	for _, c := range chunks {
		if n := len(out); n > 0 && size(out[n-1]) < p.config.CombineUnderNChars &&
			size(out[n-1])+1+size(c) <= p.config.MaxCharacters {
			out[n-1] = out[n-1] + " " + c
			continue
		}
		out = append(out, c)
	}
	return out
}

// hardSplit cuts a sentence longer than MaxCharacters, preferring the last
// space inside the window.
func (p *Processor) hardSplit(sentence string) []string {
	limit := p.config.MaxCharacters
	var pieces []string
	for size(sentence) > limit {
		runes := []rune(sentence)
		cut := limit
		if i := strings.LastIndex(string(runes[:limit]), " "); i > 0 {
			cut = utf8.RuneCountInString(string(runes[:limit])[:i])
		}
		pieces = append(pieces, strings.TrimSpace(string(runes[:cut])))
		sentence = strings.TrimSpace(string(runes[cut:]))
	}
	if sentence != "" {
		pieces = append(pieces, sentence)
	}
	return pieces
}

func (p *Processor) splitIntoSentences(text string) []string {
	sentenceEnders := []string{". ", "! ", "? ", ".\n", "!\n", "?\n"}
	var sentences []string

	current := strings.Builder{}

	for i := 0; i < len(text); i++ {
		current.WriteByte(text[i])

		// Check for sentence endings
		for _, ender := range sentenceEnders {
			if strings.HasSuffix(current.String(), ender) {
				if s := strings.TrimSpace(current.String()); s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
				break
			}
		}
	}

	// Add any remaining text
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}

	return sentences
}

func (p *Processor) removeStopwords(text string) string {
	words := strings.Fields(text)
	var filtered []string

	stopwords := make(map[string]bool)
	for _, w := range getStopwords() {
		stopwords[w] = true
	}
	for _, w := range p.config.CustomStopwords {
		stopwords[strings.ToLower(w)] = true
	}

	for _, word := range words {
		if !stopwords[strings.ToLower(word)] {
			filtered = append(filtered, word)
		}
	}

	return strings.Join(filtered, " ")
}

func size(s string) int {
	return utf8.RuneCountInString(s)
}

// Common Indonesian stopwords
func getStopwords() []string {
	return []string{
		"dan", "di", "ke", "dari", "yang", "untuk", "pada", "dengan",
		"ini", "itu", "atau", "juga", "adalah", "dalam", "akan",
	}
}
