// Package document renders approved-request snapshots into paginated PDF
// artifacts. It is a leaf dependency of the workflow: invoked by it, never
// invoking it, so a render failure can never corrupt a transition.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
)

// ErrIncompleteData means the request lacks the fields a document needs
// (business code, title). The caller should surface it and move on.
var ErrIncompleteData = errors.New("incomplete document data")

// Line is a single costed row in the rendered table
type Line struct {
	Description string
	Quantity    int
	UnitPrice   decimal.Decimal
	Amount      decimal.Decimal
}

// Document is the render input: a denormalized snapshot of a request,
// decoupled from the persistence model.
type Document struct {
	Code     string
	Kind     string
	Title    string
	Status   string
	Currency string
	Creator  string
	Reviewer string
	Approver string
	Total    decimal.Decimal
	IssuedAt time.Time
	Lines    []Line
}

// Artifact is a generated file ready to download or attach
type Artifact struct {
	FileName    string
	ContentType string
	Data        []byte
}

const defaultLinesPerPage = 18

// Generator lays out documents. Zero value is not usable; call NewGenerator.
type Generator struct {
	linesPerPage int
}

func NewGenerator() *Generator {
	return &Generator{linesPerPage: defaultLinesPerPage}
}

// Paginate splits lines into page-sized chunks. Every line appears in
// exactly one chunk regardless of how many pages that takes; an empty
// input still yields one (empty) page so headers and totals render.
func Paginate(lines []Line, perPage int) [][]Line {
	if perPage <= 0 {
		perPage = defaultLinesPerPage
	}
	if len(lines) == 0 {
		return [][]Line{{}}
	}
	pages := make([][]Line, 0, (len(lines)+perPage-1)/perPage)
	for start := 0; start < len(lines); start += perPage {
		end := start + perPage
		if end > len(lines) {
			end = len(lines)
		}
		pages = append(pages, lines[start:end])
	}
	return pages
}

// Render produces the PDF artifact for doc. The artifact filename derives
// from the business code, not the record's opaque id.
func (g *Generator) Render(doc Document) (Artifact, error) {
	if doc.Code == "" {
		return Artifact{}, fmt.Errorf("%w: missing business code", ErrIncompleteData)
	}
	if doc.Title == "" {
		return Artifact{}, fmt.Errorf("%w: missing title", ErrIncompleteData)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(false, 15)

	pages := Paginate(doc.Lines, g.linesPerPage)
	for i, page := range pages {
		pdf.AddPage()
		g.renderHeader(pdf, doc, i+1, len(pages))
		g.renderTable(pdf, doc, page)
		if i == len(pages)-1 {
			g.renderTotals(pdf, doc)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return Artifact{}, fmt.Errorf("failed to render document %s: %w", doc.Code, err)
	}

	return Artifact{
		FileName:    doc.Code + ".pdf",
		ContentType: "application/pdf",
		Data:        buf.Bytes(),
	}, nil
}

func (g *Generator) renderHeader(pdf *gofpdf.Fpdf, doc Document, page, pages int) {
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(140, 10, kindTitle(doc.Kind), "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(50, 10, fmt.Sprintf("Page %d of %d", page, pages), "", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(190, 7, doc.Code, "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(190, 6, doc.Title, "", 1, "L", false, 0, "")
	pdf.CellFormat(95, 6, "Status: "+strings.ToUpper(doc.Status), "", 0, "L", false, 0, "")
	pdf.CellFormat(95, 6, "Issued: "+doc.IssuedAt.Format("2006-01-02"), "", 1, "R", false, 0, "")

	pdf.CellFormat(63, 6, "Prepared by: "+orDash(doc.Creator), "", 0, "L", false, 0, "")
	pdf.CellFormat(63, 6, "Reviewed by: "+orDash(doc.Reviewer), "", 0, "L", false, 0, "")
	pdf.CellFormat(64, 6, "Approved by: "+orDash(doc.Approver), "", 1, "L", false, 0, "")
	pdf.Ln(4)
}

func (g *Generator) renderTable(pdf *gofpdf.Fpdf, doc Document, lines []Line) {
	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(230, 230, 230)
	pdf.CellFormat(100, 7, "Description", "1", 0, "L", true, 0, "")
	pdf.CellFormat(20, 7, "Qty", "1", 0, "R", true, 0, "")
	pdf.CellFormat(35, 7, "Unit Price", "1", 0, "R", true, 0, "")
	pdf.CellFormat(35, 7, "Amount", "1", 1, "R", true, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	for _, line := range lines {
		pdf.CellFormat(100, 7, truncate(line.Description, 60), "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 7, fmt.Sprintf("%d", line.Quantity), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 7, line.UnitPrice.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 7, line.Amount.StringFixed(2), "1", 1, "R", false, 0, "")
	}
}

func (g *Generator) renderTotals(pdf *gofpdf.Fpdf, doc Document) {
	pdf.Ln(2)
	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(155, 8, "Total ("+doc.Currency+")", "", 0, "R", false, 0, "")
	pdf.CellFormat(35, 8, doc.Total.StringFixed(2), "1", 1, "R", false, 0, "")
}

func kindTitle(kind string) string {
	switch kind {
	case "expense-claim":
		return "Expense Claim"
	case "travel-request":
		return "Travel Request"
	case "payment-request":
		return "Payment Request"
	case "payment-voucher":
		return "Payment Voucher"
	case "purchase-order":
		return "Purchase Order"
	default:
		return "Request"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// truncate shortens s to max characters, cutting on rune boundaries so a
// multi-byte description never ends in a mangled partial character.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
