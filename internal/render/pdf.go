// Package render produces the printable prescription document and stores it
// as an immutable artifact.
package render

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/signintech/gopdf"

	"github.com/medscribe/go-scribe/internal/domain/patient"
	"github.com/medscribe/go-scribe/internal/domain/prescription"
)

const (
	pageWidth  = 595.0
	marginX    = 40.0
	textWidth  = pageWidth - 2*marginX
	footerY    = 790.0
	pageBreakY = 760.0
)

// PDFConfig holds renderer configuration
type PDFConfig struct {
	// FontPath points at a TTF with Devanagari coverage for printed names
	FontPath string
	FontName string
}

// DefaultPDFConfig returns defaults for the container image
func DefaultPDFConfig() PDFConfig {
	return PDFConfig{
		FontPath: "/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
		FontName: "DejaVu",
	}
}

// Document is everything the prescription layout needs.
type Document struct {
	Prescription *prescription.Prescription
	Patient      *patient.Patient
	Doctor       *patient.Doctor
	Clinic       *patient.Clinic
	Diagnosis    string
	FollowUp     string
}

// PDFRenderer renders prescription documents.
type PDFRenderer struct {
	cfg PDFConfig
}

// NewPDFRenderer creates a new PDF renderer
func NewPDFRenderer(cfg PDFConfig) *PDFRenderer {
	if cfg.FontPath == "" {
		cfg = DefaultPDFConfig()
	}
	if cfg.FontName == "" {
		cfg.FontName = DefaultPDFConfig().FontName
	}
	return &PDFRenderer{cfg: cfg}
}

// Render lays out the prescription and returns the PDF bytes.
func (r *PDFRenderer) Render(doc *Document) ([]byte, error) {
	if doc.Prescription == nil || doc.Patient == nil || doc.Doctor == nil {
		return nil, fmt.Errorf("prescription, patient and doctor are required")
	}

	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	if err := pdf.AddTTFFont(r.cfg.FontName, r.cfg.FontPath); err != nil {
		return nil, fmt.Errorf("load font %s: %w", r.cfg.FontPath, err)
	}

	w := &writer{pdf: pdf, font: r.cfg.FontName}

	// Letterhead
	if doc.Clinic != nil {
		w.heading(16, doc.Clinic.Name)
		if doc.Clinic.Address != "" {
			w.line(9, doc.Clinic.Address)
		}
		contact := doc.Clinic.Phone
		if doc.Clinic.Email != "" {
			if contact != "" {
				contact += " | "
			}
			contact += doc.Clinic.Email
		}
		if contact != "" {
			w.line(9, contact)
		}
		w.rule()
	}

	// Doctor block
	w.heading(12, "Dr. "+doc.Doctor.Name)
	if doc.Doctor.Specialization != "" {
		w.line(9, doc.Doctor.Specialization)
	}
	if doc.Doctor.RegistrationNumber != "" {
		w.line(9, "Reg. No. "+doc.Doctor.RegistrationNumber)
	}
	w.space(8)

	// Prescription meta + patient block
	p := doc.Prescription
	w.line(10, fmt.Sprintf("Prescription No: %s", p.PrescriptionNumber))
	w.line(10, fmt.Sprintf("Date: %s", p.CreatedAt.Format("02 Jan 2006")))
	w.space(6)
	patientLine := fmt.Sprintf("Patient: %s", doc.Patient.Name)
	if doc.Patient.Age > 0 {
		patientLine += fmt.Sprintf(", %d", doc.Patient.Age)
	}
	if doc.Patient.Gender != "" {
		patientLine += ", " + doc.Patient.Gender
	}
	w.line(10, patientLine)
	if len(doc.Patient.Allergies) > 0 {
		w.line(10, "Known allergies: "+strings.Join(doc.Patient.Allergies, ", "))
	}
	w.rule()

	if doc.Diagnosis != "" {
		w.heading(11, "Diagnosis")
		w.paragraph(10, doc.Diagnosis)
		w.space(6)
	}

	// Medicines table, the Rx body
	w.heading(13, "Rx")
	for i, m := range p.Medicines {
		w.paragraph(10, fmt.Sprintf("%d. %s  %s", i+1, m.Name, m.Dosage))
		detail := m.Frequency
		if m.Duration != "" {
			detail += " x " + m.Duration
		}
		if m.Instructions != "" {
			detail += " - " + m.Instructions
		}
		w.paragraph(9, "    "+detail)
		w.space(4)
	}
	if len(p.Medicines) == 0 {
		w.line(10, "No medicines prescribed.")
	}
	w.space(8)

	if len(p.LabTests) > 0 {
		w.heading(11, "Investigations")
		for _, t := range p.LabTests {
			w.paragraph(10, "- "+t)
		}
		w.space(6)
	}

	if p.Advice != "" {
		w.heading(11, "Advice")
		w.paragraph(10, p.Advice)
		w.space(6)
	}

	if doc.FollowUp != "" {
		w.heading(11, "Follow-up")
		w.paragraph(10, doc.FollowUp)
	}

	// Footer
	pdf.SetY(footerY)
	pdf.SetX(marginX)
	if err := pdf.SetFont(r.cfg.FontName, "", 8); err != nil {
		return nil, err
	}
	pdf.Cell(nil, fmt.Sprintf("Generated %s. Not valid without doctor's signature.",
		time.Now().UTC().Format("02 Jan 2006 15:04 MST")))

	if w.err != nil {
		return nil, w.err
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// writer keeps layout plumbing out of the section code. The first error
// sticks; later calls become no-ops.
type writer struct {
	pdf  *gopdf.GoPdf
	font string
	err  error
}

func (w *writer) setFont(size float64) bool {
	if w.err != nil {
		return false
	}
	if err := w.pdf.SetFont(w.font, "", size); err != nil {
		w.err = err
		return false
	}
	w.pdf.SetX(marginX)
	return true
}

func (w *writer) breakPage() {
	if w.pdf.GetY() > pageBreakY {
		w.pdf.AddPage()
		w.pdf.SetY(40)
	}
}

func (w *writer) heading(size float64, text string) {
	if !w.setFont(size) {
		return
	}
	w.breakPage()
	w.pdf.Cell(nil, text)
	w.pdf.Br(size + 6)
}

func (w *writer) line(size float64, text string) {
	if !w.setFont(size) {
		return
	}
	w.breakPage()
	w.pdf.Cell(nil, text)
	w.pdf.Br(size + 4)
}

func (w *writer) paragraph(size float64, text string) {
	if !w.setFont(size) {
		return
	}
	lines, err := w.pdf.SplitText(text, textWidth)
	if err != nil {
		lines = []string{text}
	}
	for _, l := range lines {
		w.breakPage()
		w.pdf.SetX(marginX)
		w.pdf.Cell(nil, l)
		w.pdf.Br(size + 3)
	}
}

func (w *writer) rule() {
	if w.err != nil {
		return
	}
	y := w.pdf.GetY() + 4
	w.pdf.Line(marginX, y, pageWidth-marginX, y)
	w.pdf.SetY(y + 10)
	w.pdf.SetX(marginX)
}

func (w *writer) space(pt float64) {
	if w.err != nil {
		return
	}
	w.pdf.SetY(w.pdf.GetY() + pt)
	w.pdf.SetX(marginX)
}
