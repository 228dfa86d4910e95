package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

const pptxSlidePrefix = "ppt/slides/slide"

// slideNumber returns N for ppt/slides/slideN.xml, or false for any other part.
func slideNumber(name string) (int, bool) {
	if !strings.HasPrefix(name, pptxSlidePrefix) || !strings.HasSuffix(name, ".xml") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, pptxSlidePrefix), ".xml"))
	if err != nil {
		return 0, false
	}
	return n, true
}

// extractPPTX returns the text runs (a:t) of every slide in slide order. Each
// paragraph (a:p) ends a line and each slide ends a paragraph.
func extractPPTX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract PPTX: not a zip: %w", err)
	}
	type slide struct {
		n    int
		file *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		if n, ok := slideNumber(f.Name); ok {
			slides = append(slides, slide{n, f})
		}
	}
	if len(slides) == 0 {
		return "", fmt.Errorf("extract PPTX: no slides")
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	var b strings.Builder
	for _, s := range slides {
		if err := slideText(s.file, &b); err != nil {
			return "", fmt.Errorf("extract PPTX: %s: %w", s.file.Name, err)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String()), nil
}

func slideText(f *zip.File, b *strings.Builder) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
}
