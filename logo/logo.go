package logo

import (
	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
)

// Display prints the application banner.
func Display() {
	s, _ := pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("Ledger", pterm.FgCyan.ToStyle()),
		putils.LettersFromStringWithStyle("driver", pterm.FgLightMagenta.ToStyle())).Srender()
	pterm.DefaultCenter.Println(s)
	pterm.DefaultCenter.WithCenterEachLineSeparately().
		Println("Create, sign and transfer assets\non the ledger from your terminal.")
}
