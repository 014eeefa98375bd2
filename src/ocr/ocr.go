package ocr

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/ikuradondai/erudaite-desktop/src/screenshot"
)

// ErrEngineNotFound reports that no usable Tesseract installation could be
// located. Callers surface install guidance instead of a raw failure.
var ErrEngineNotFound = errors.New("ocr engine not found")

// EngineAvailable probes for a usable Tesseract installation. enginePath, when
// non-empty, names a user-configured binary or data directory and wins over
// PATH lookup.
func EngineAvailable(enginePath string) bool {
	if enginePath != "" {
		if _, err := os.Stat(enginePath); err == nil {
			return true
		}
		log.Printf("OCR: configured engine path %q not found", enginePath)
		return false
	}
	if _, err := exec.LookPath("tesseract"); err == nil {
		return true
	}
	return false
}

// Recognize runs Tesseract over the image at imagePath and returns the
// trimmed text. lang is a Tesseract language string such as "jpn+eng".
func Recognize(imagePath, lang, enginePath string) (string, error) {
	if !EngineAvailable(enginePath) {
		return "", ErrEngineNotFound
	}

	client := gosseract.NewClient()
	defer client.Close()

	if lang != "" {
		if err := client.SetLanguage(strings.Split(lang, "+")...); err != nil {
			return "", fmt.Errorf("set ocr language %q: %w", lang, err)
		}
	}
	if err := client.SetImage(imagePath); err != nil {
		return "", fmt.Errorf("load ocr image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("ocr failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// RecognizeRegion captures a screen region to a temp file and runs Recognize
// on it. The temp file is removed afterwards.
func RecognizeRegion(region screenshot.Region, lang, enginePath string) (string, error) {
	log.Printf("OCR: capturing region X=%d Y=%d W=%d H=%d", region.X, region.Y, region.Width, region.Height)

	path, err := screenshot.CaptureRegionToFile(region)
	if err != nil {
		return "", err
	}
	defer os.Remove(path)

	return Recognize(path, lang, enginePath)
}
