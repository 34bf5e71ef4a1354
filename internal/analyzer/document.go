package analyzer

import (
	"context"
	"fmt"
	"math"

	"github.com/fuelops/sentinel/internal/domain"
)

// DocumentIntegrityAnalyzer scores forgery indicators surfaced by the
// document scanning pipeline: hash mismatches against the registered
// original, tampered metadata, missing or weak signatures, and garbled OCR.
type DocumentIntegrityAnalyzer struct{}

// NewDocumentIntegrityAnalyzer creates a document integrity analyzer.
func NewDocumentIntegrityAnalyzer() *DocumentIntegrityAnalyzer {
	return &DocumentIntegrityAnalyzer{}
}

// Name implements domain.SignalProvider.
func (a *DocumentIntegrityAnalyzer) Name() string { return "integrity" }

// Score implements domain.SignalProvider.
func (a *DocumentIntegrityAnalyzer) Score(ctx context.Context, c *domain.Candidate) (float64, []domain.Evidence, error) {
	doc, ok := c.Event.(*domain.ScannedDocument)
	if !ok {
		return 0, nil, fmt.Errorf("unexpected event type %T", c.Event)
	}

	var score float64
	var evidence []domain.Evidence

	if doc.HashMismatch {
		score = math.Max(score, 0.95)
		evidence = append(evidence, domain.Evidence{
			Type:        "integrity",
			Description: "document content hash differs from the registered original",
			Source:      "analyzer:integrity",
			Reliability: 0.95,
		})
	}

	if doc.MetadataTampered {
		score = math.Max(score, 0.8)
		evidence = append(evidence, domain.Evidence{
			Type:        "integrity",
			Description: "document metadata is internally inconsistent",
			Source:      "analyzer:integrity",
			Reliability: 0.85,
		})
	}

	switch {
	case !doc.HasSignature:
		score = math.Max(score, 0.5)
		evidence = append(evidence, domain.Evidence{
			Type:        "integrity",
			Description: fmt.Sprintf("%s is missing a signature", doc.DocType),
			Source:      "analyzer:integrity",
			Reliability: 0.6,
		})
	case doc.SignatureScore < 0.5:
		score = math.Max(score, 1-doc.SignatureScore)
		evidence = append(evidence, domain.Evidence{
			Type:        "integrity",
			Description: fmt.Sprintf("signature matches reference at only %.0f%%", doc.SignatureScore*100),
			Source:      "analyzer:integrity",
			Reliability: 0.8,
			Data:        map[string]any{"signatureScore": doc.SignatureScore},
		})
	}

	if doc.OCRConfidence > 0 && doc.OCRConfidence < 0.6 {
		// Heavily degraded scans are a common way to hide altered figures.
		score = math.Max(score, clamp01((0.6-doc.OCRConfidence)/0.6))
		evidence = append(evidence, domain.Evidence{
			Type:        "integrity",
			Description: fmt.Sprintf("OCR confidence %.0f%% suggests a degraded or altered scan", doc.OCRConfidence*100),
			Source:      "analyzer:integrity",
			Reliability: 0.65,
			Data:        map[string]any{"ocrConfidence": doc.OCRConfidence},
		})
	}

	return clamp01(score), evidence, nil
}
