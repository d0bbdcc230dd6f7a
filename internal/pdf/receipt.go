package pdf

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"udensfiltri/internal/models"
)

// Generator: интерфейс, удобно мокать в тестах
type Generator interface {
	OrderReceipt(o *models.Order, paidAt time.Time) ([]byte, error)
}

// ReceiptGenerator renders order receipts. Without a TTF font it falls back to
// the core Helvetica font with cp1252 translation.
type ReceiptGenerator struct {
	FontPath string // путь до TTF, например "assets/fonts/DejaVuSans.ttf"
	Company  string
	fontName string
}

func NewReceiptGenerator(fontPath, company string) *ReceiptGenerator {
	name := "Helvetica"
	if fontPath != "" {
		name = "DejaVu"
	}
	return &ReceiptGenerator{FontPath: fontPath, Company: company, fontName: name}
}

func (g *ReceiptGenerator) OrderReceipt(o *models.Order, paidAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Receipt for order #%d", o.ID), true)
	pdf.SetAuthor(g.Company, true)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)

	tr := func(s string) string { return s }
	if g.FontPath != "" {
		pdf.AddUTF8Font(g.fontName, "", g.FontPath)
		pdf.AddUTF8Font(g.fontName, "B", g.FontPath)
	} else {
		tr = pdf.UnicodeTranslatorFromDescriptor("")
	}
	pdf.AddPage()

	// ===== Заголовок
	pdf.SetFont(g.fontName, "B", 18)
	pdf.CellFormat(0, 10, tr("RECEIPT"), "", 1, "C", false, 0, "")
	pdf.SetFont(g.fontName, "", 12)
	pdf.CellFormat(0, 7, tr(fmt.Sprintf("Order #%d  /  %s", o.ID, paidAt.Format("02.01.2006 15:04"))), "", 1, "C", false, 0, "")
	g.hr(pdf)

	g.kvLine(pdf, tr, "Seller", g.Company)
	if e := o.RecipientEmail(); e != "" {
		g.kvLine(pdf, tr, "Customer", e)
	}
	g.kvLine(pdf, tr, "Status", strings.ToUpper(string(o.Status)))
	pdf.Ln(2)

	// ===== Позиции
	widths := []float64{80, 15, 25, 20, 30}
	pdf.SetFont(g.fontName, "B", 10)
	for i, h := range []string{"Item", "Qty", "Unit price", "Discount", "Total"} {
		pdf.CellFormat(widths[i], 7, tr(h), "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont(g.fontName, "", 10)
	for _, it := range o.Items {
		pdf.CellFormat(widths[0], 7, tr(it.Name), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 7, fmt.Sprint(it.Qty), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[2], 7, money(it.UnitPriceCents), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[3], 7, fmt.Sprintf("%d%%", it.DiscountPercent), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[4], 7, money(it.LineTotalCents()), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	pdf.Ln(3)
	pdf.SetFont(g.fontName, "B", 12)
	pdf.CellFormat(0, 8, tr(fmt.Sprintf("Total: %s %s", money(o.TotalCents), strings.ToUpper(o.Currency))), "", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}
	return buf.Bytes(), nil
}

func money(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

// ===== helpers =====

func (g *ReceiptGenerator) kvLine(pdf *gofpdf.Fpdf, tr func(string) string, key, val string) {
	pdf.SetFont(g.fontName, "B", 11)
	pdf.CellFormat(45, 6, tr(key+":"), "", 0, "L", false, 0, "")
	pdf.SetFont(g.fontName, "", 11)
	pdf.CellFormat(0, 6, tr(val), "", 1, "L", false, 0, "")
}

func (g *ReceiptGenerator) hr(pdf *gofpdf.Fpdf) {
	y := pdf.GetY() + 1.5
	pdf.SetLineWidth(0.2)
	pdf.Line(20, y, 190, y)
	pdf.SetY(y + 2)
}
