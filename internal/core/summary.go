package core

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

type summaryStyles struct {
	title lipgloss.Style
	path  lipgloss.Style
	step  lipgloss.Style
	note  lipgloss.Style
}

func newSummaryStyles(w io.Writer) summaryStyles {
	r := lipgloss.NewRenderer(w)
	return summaryStyles{
		title: r.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true),
		path:  r.NewStyle().Foreground(lipgloss.Color("#5B8DEF")),
		step:  r.NewStyle().Foreground(lipgloss.Color("#CCCCCC")),
		note:  r.NewStyle().Foreground(lipgloss.Color("#999999")),
	}
}

// WriteSummary 输出本次运行的汇总，只列出成功的结果
func WriteSummary(w io.Writer, outcomes *Outcomes, params Params) {
	styles := newSummaryStyles(w)

	if params.CompleteRequest {
		installed := outcomes.ByKind(CertificateInstalled)
		issued := outcomes.ByKind(CertificateIssued)

		// 本机安装成功时只输出指纹
		if len(installed) > 0 && len(issued) == 0 {
			for _, o := range installed {
				fmt.Fprintln(w, o.Fingerprint())
			}
			return
		}

		if len(installed) > 0 {
			fmt.Fprintln(w, styles.title.Render("Certificate installed"))
			for _, o := range installed {
				fmt.Fprintf(w, "  %s  %s\n", o.Host, o.Fingerprint())
			}
		}

		if len(issued) > 0 {
			fmt.Fprintln(w, styles.title.Render("Certificate issued"))
			for _, o := range issued {
				fmt.Fprintf(w, "  %s  %s\n", styles.path.Render(o.Path()), styles.note.Render("("+o.Authority()+")"))
			}
			fmt.Fprintln(w, styles.title.Render("Next steps"))
			fmt.Fprintln(w, styles.step.Render("  1. Copy each .cer file to the domain controller it was issued for"))
			fmt.Fprintln(w, styles.step.Render("  2. Install it on that domain controller: certreq -accept -machine <certificate>.cer"))
			fmt.Fprintln(w, styles.step.Render("  3. Confirm it is present: certutil -store My"))
		}

		if len(installed) == 0 && len(issued) == 0 {
			fmt.Fprintln(w, styles.note.Render("No certificate was issued"))
		}
		return
	}

	generated := outcomes.ByKind(RequestGenerated)
	if len(generated) == 0 {
		fmt.Fprintln(w, styles.note.Render("No request was created"))
		return
	}

	fmt.Fprintln(w, styles.title.Render("Request created"))
	for _, o := range generated {
		fmt.Fprintf(w, "  %s\n", styles.path.Render(o.Path()))
	}
	fmt.Fprintln(w, styles.title.Render("Next steps"))
	fmt.Fprintln(w, styles.step.Render(`  1. Submit the request to an issuing CA: certreq -submit -config "<CA host>\<CA name>" <request>.req <request>.cer`))
	fmt.Fprintln(w, styles.step.Render("  2. Copy the issued .cer file to the domain controller it was requested for"))
	fmt.Fprintln(w, styles.step.Render("  3. Install it on that domain controller: certreq -accept -machine <request>.cer"))
}
