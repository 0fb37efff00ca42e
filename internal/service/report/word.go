package report

import (
	"fmt"
	"os"

	"github.com/gomutex/godocx"
	"github.com/gomutex/godocx/docx"
)

const (
	wordFont = "Calibri"
	wordSize = 11
)

func renderWord(blocks []block) ([]byte, error) {
	doc, err := godocx.NewDocument()
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	for _, b := range blocks {
		p := doc.AddParagraph("")
		switch b.kind {
		case blockTitle:
			addRun(p, b.text, true, 20)
		case blockSubtitle:
			p.AddText(b.text).Font(wordFont).Size(10).Color("646464")
		case blockHeading:
			addRun(p, b.text, true, 15)
		case blockSubheading:
			addRun(p, b.text, true, 13)
		case blockText:
			addRun(p, b.text, false, wordSize)
		case blockEntry:
			addRun(p, b.label+" ", true, wordSize)
			addRun(p, b.text, false, wordSize)
		}
	}

	tmp, err := os.CreateTemp("", "meeting-report-*.docx")
	if err != nil {
		return nil, fmt.Errorf("create temp document: %w", err)
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	if err := doc.SaveTo(path); err != nil {
		return nil, fmt.Errorf("write document: %w", err)
	}
	return os.ReadFile(path)
}

func addRun(p *docx.Paragraph, text string, bold bool, size uint64) {
	run := p.AddText(text).Font(wordFont).Size(size).Color("000000")
	if bold {
		run.Bold(true)
	}
}
