package page

import (
	"bytes"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// DetectCharset detects the character encoding of raw page bytes.
func DetectCharset(data []byte) string {
	detector := chardet.NewTextDetector()
	result, err := detector.DetectBest(data)
	if err != nil || result == nil {
		return "utf-8"
	}
	return strings.ToLower(result.Charset)
}

// NormalizeUTF8 converts raw page bytes to a UTF-8 string, falling back to
// the bytes as-is when conversion is not possible.
func NormalizeUTF8(data []byte) string {
	detected := DetectCharset(data)
	if detected == "utf-8" {
		return string(data)
	}

	utf8Reader, err := charset.NewReader(bytes.NewReader(data), detected)
	if err != nil {
		return string(data)
	}
	converted, err := io.ReadAll(utf8Reader)
	if err != nil {
		return string(data)
	}
	return string(converted)
}

// LoadDocument parses HTML into a goquery document with charset detection.
func LoadDocument(htmlStr string) (*goquery.Document, error) {
	data := []byte(htmlStr)
	detected := DetectCharset(data)

	utf8Reader, err := charset.NewReader(bytes.NewReader(data), detected)
	if err != nil {
		// Fallback to direct parsing
		return goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	}
	return goquery.NewDocumentFromReader(utf8Reader)
}

// LoadNode parses HTML into an xpath-compatible node tree.
func LoadNode(htmlStr string) (*html.Node, error) {
	data := []byte(htmlStr)
	detected := DetectCharset(data)

	utf8Reader, err := charset.NewReader(bytes.NewReader(data), detected)
	if err != nil {
		return htmlquery.Parse(strings.NewReader(htmlStr))
	}
	return htmlquery.Parse(utf8Reader)
}
