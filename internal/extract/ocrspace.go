package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"
)

const ocrSuccessExitCode = 1

// ocrEngineVariants is the fixed fallback order. Variant 0 omits the
// engine selector and lets the service pick its default.
var ocrEngineVariants = []int{0, 2, 3}

// OCRSpace implements the Extractor interface against an OCR.space style
// recognition service.
type OCRSpace struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewOCRSpace creates a new OCRSpace Extractor instance. The API key is
// mandatory; a missing one is a startup failure, not something to discover
// on the first receipt.
func NewOCRSpace(endpoint, apiKey string) (*OCRSpace, error) {
	if apiKey == "" {
		return nil, ErrCredentialMissing
	}
	if endpoint == "" {
		endpoint = "https://api.ocr.space/parse/image"
	}

	return &OCRSpace{
		endpoint: endpoint,
		apiKey:   apiKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// ocrResponse is the service's parse result envelope.
type ocrResponse struct {
	OCRExitCode   int `json:"OCRExitCode"`
	ParsedResults []struct {
		ParsedText string `json:"ParsedText"`
	} `json:"ParsedResults"`
}

// Extract posts the receipt to the recognition service, escalating through
// the engine variants until one reports success, and parses the amount and
// date out of the first returned text block. When every variant fails it
// returns ErrExtractionFailed; it never falls back to silent zero values.
func (o *OCRSpace) Extract(ctx context.Context, imageData []byte, contentType string) (*Fields, error) {
	finalImageData, _, _, err := prepareImageData(imageData, contentType)
	if err != nil {
		return nil, err
	}

	for _, engine := range ocrEngineVariants {
		resp, err := o.post(ctx, finalImageData, engine)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("Recognition attempt failed", "engine", engine, "error", err)
			continue
		}

		if resp.OCRExitCode != ocrSuccessExitCode || len(resp.ParsedResults) == 0 {
			slog.Info("Recognition engine reported failure, trying next variant",
				"engine", engine,
				"exit_code", resp.OCRExitCode,
			)
			continue
		}

		return parseFields(resp.ParsedResults[0].ParsedText), nil
	}

	return nil, fmt.Errorf("all recognition engines exhausted: %w", ErrExtractionFailed)
}

// post sends one multipart recognition request for a single engine variant.
func (o *OCRSpace) post(ctx context.Context, imageData []byte, engine int) (*ocrResponse, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	part, err := form.CreateFormFile("file", "receipt.png")
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("writing image data: %w", err)
	}

	if err := form.WriteField("apikey", o.apiKey); err != nil {
		return nil, fmt.Errorf("writing api key: %w", err)
	}
	if err := form.WriteField("istable", "true"); err != nil {
		return nil, fmt.Errorf("writing istable field: %w", err)
	}
	if engine != 0 {
		if err := form.WriteField("OCREngine", fmt.Sprintf("%d", engine)); err != nil {
			return nil, fmt.Errorf("writing engine selector: %w", err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("closing form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling recognition service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("recognition service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &parsed, nil
}

// Close closes the extractor (no-op for HTTP client)
func (o *OCRSpace) Close() error {
	return nil
}
