package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const docxBodyPart = "word/document.xml"

// maxDocxPartBytes bounds the decompressed document body.
const maxDocxPartBytes = 32 << 20

// extractDOCXText gathers the <w:t> runs of word/document.xml, one line
// per paragraph.
func extractDOCXText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}

	var part *zip.File
	for _, f := range zr.File {
		if f.Name == docxBodyPart {
			part = f
			break
		}
	}
	if part == nil {
		return "", errors.New("docx has no word/document.xml")
	}

	rc, err := part.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", docxBodyPart, err)
	}
	defer rc.Close()

	text, err := paragraphsFromXML(io.LimitReader(rc, maxDocxPartBytes))
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", errors.New("no text extracted from docx")
	}
	return text, nil
}

func paragraphsFromXML(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		out  []string
		para strings.Builder
	)
	flush := func() {
		if line := collapseWhitespace(para.String()); line != "" {
			out = append(out, line)
		}
		para.Reset()
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse docx xml: %w", err)
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "t":
				var v string
				if err := dec.DecodeElement(&v, &el); err != nil {
					return "", fmt.Errorf("decode text run: %w", err)
				}
				para.WriteString(v)
			case "tab":
				para.WriteString(" ")
			}
		case xml.EndElement:
			if el.Name.Local == "p" {
				flush()
			}
		}
	}
	flush()
	return strings.Join(out, "\n"), nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
