package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
)

const (
	pdfFont       = "Helvetica"
	pdfLineHeight = 6.0
)

func renderPDF(blocks []block, date time.Time, title string) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(false)
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(date)
	pdf.SetModificationDate(date)
	pdf.SetTitle(title, true)
	pdf.SetCreator("meeting-insight-service", false)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont(pdfFont, "I", 8)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	for _, b := range blocks {
		switch b.kind {
		case blockTitle:
			pdf.SetFont(pdfFont, "B", 18)
			pdf.CellFormat(0, 10, tr(b.text), "", 1, "C", false, 0, "")
		case blockSubtitle:
			pdf.SetFont(pdfFont, "", 10)
			pdf.SetTextColor(100, 100, 100)
			pdf.CellFormat(0, pdfLineHeight, tr(b.text), "", 1, "C", false, 0, "")
			pdf.SetTextColor(0, 0, 0)
			pdf.Ln(4)
		case blockHeading:
			pdf.Ln(4)
			pdf.SetFont(pdfFont, "B", 14)
			pdf.CellFormat(0, 8, tr(b.text), "B", 1, "L", false, 0, "")
			pdf.Ln(2)
		case blockSubheading:
			pdf.Ln(2)
			pdf.SetFont(pdfFont, "B", 12)
			pdf.CellFormat(0, 7, tr(b.text), "", 1, "L", false, 0, "")
		case blockText:
			pdf.SetFont(pdfFont, "", 11)
			pdf.MultiCell(0, pdfLineHeight, tr(b.text), "", "L", false)
		case blockEntry:
			pdf.SetFont(pdfFont, "B", 11)
			label := tr(b.label)
			pdf.CellFormat(pdf.GetStringWidth(label)+2, pdfLineHeight, label, "", 0, "L", false, 0, "")
			pdf.SetFont(pdfFont, "", 11)
			pdf.MultiCell(0, pdfLineHeight, tr(b.text), "", "L", false)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}
