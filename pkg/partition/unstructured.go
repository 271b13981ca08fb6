// Package partition turns an uploaded PDF into ordered table and text
// elements.
package partition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xhad/deptbot/internal/logger"
	"github.com/xhad/deptbot/internal/models"
)

// ErrNoElements is returned when a document yields nothing usable.
var ErrNoElements = errors.New("no table or text elements found")

const partitionPath = "/general/v0/general"

// Config holds the hosted partitioner settings.
type Config struct {
	URL                string
	APIKey             string
	Strategy           string
	InferTables        bool
	MaxCharacters      int
	NewAfterNChars     int
	CombineUnderNChars int
	// Local and crawled chunks only; hosted elements are kept verbatim.
	RemoveStopwords bool
	CustomStopwords []string
	Timeout         time.Duration
}

// RawElement is one element as returned by the partition API.
type RawElement struct {
	Type      string `json:"type"`
	ElementID string `json:"element_id"`
	Text      string `json:"text"`
	Metadata  struct {
		TextAsHTML string `json:"text_as_html"`
		PageNumber int    `json:"page_number"`
		Filename   string `json:"filename"`
	} `json:"metadata"`
}

// Unstructured partitions documents through the Unstructured API.
type Unstructured struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

func NewUnstructured(config Config) (*Unstructured, error) {
	if config.APIKey == "" {
		return nil, errors.New("unstructured API key is required")
	}
	if config.URL == "" {
		config.URL = "https://api.unstructuredapp.io"
	}
	if config.Strategy == "" {
		config.Strategy = "hi_res"
	}
	if config.Timeout == 0 {
		// hi_res on a long PDF takes minutes.
		config.Timeout = 10 * time.Minute
	}

	return &Unstructured{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger.Component("partition"),
	}, nil
}

// Partition uploads the file and categorizes the returned elements.
func (u *Unstructured) Partition(ctx context.Context, filename string, r io.Reader) ([]models.Element, error) {
	raw, err := u.partitionRaw(ctx, filename, r)
	if err != nil {
		return nil, err
	}

	elements := Categorize(raw, filename)
	u.logger.Info("document partitioned",
		"file", filename,
		"raw_elements", len(raw),
		"elements", len(elements),
	)
	if len(elements) == 0 {
		return nil, ErrNoElements
	}
	return elements, nil
}

func (u *Unstructured) partitionRaw(ctx context.Context, filename string, r io.Reader) ([]RawElement, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("files", filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("failed to copy file data: %w", err)
	}

	fields := map[string]string{
		"strategy":                  u.config.Strategy,
		"pdf_infer_table_structure": strconv.FormatBool(u.config.InferTables),
	}
	if u.config.MaxCharacters > 0 {
		fields["max_characters"] = strconv.Itoa(u.config.MaxCharacters)
	}
	if u.config.NewAfterNChars > 0 {
		fields["new_after_n_chars"] = strconv.Itoa(u.config.NewAfterNChars)
	}
	if u.config.CombineUnderNChars > 0 {
		fields["combine_under_n_chars"] = strconv.Itoa(u.config.CombineUnderNChars)
	}
	if u.config.InferTables {
		fields["skip_infer_table_types"] = "[]"
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	endpoint := strings.TrimRight(u.config.URL, "/") + partitionPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("unstructured-api-key", u.config.APIKey)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("partition request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("partition request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var raw []RawElement
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode partition response: %w", err)
	}
	return raw, nil
}

// Categorize keeps tables (as HTML) and narrative text, in document order.
func Categorize(raw []RawElement, source string) []models.Element {
	elements := make([]models.Element, 0, len(raw))

	for _, el := range raw {
		var kind, content string
		switch el.Type {
		case "Table":
			kind = models.ElementTable
			content = el.Metadata.TextAsHTML
			if strings.TrimSpace(content) == "" {
				content = el.Text
			}
		case "NarrativeText", "Address", "EmailAddress", "CompositeElement":
			kind = models.ElementText
			content = el.Text
		default:
			continue
		}

		content = strings.TrimSpace(content)
		if content == "" {
			continue
		}

		src := source
		if el.Metadata.Filename != "" {
			src = el.Metadata.Filename
		}
		if src != "" {
			src = filepath.Base(src)
		}
		elements = append(elements, models.Element{
			Type:    kind,
			Content: content,
			Page:    el.Metadata.PageNumber,
			Source:  src,
		})
	}

	return elements
}
