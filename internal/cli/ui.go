package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// formatter colors text, or falls back to plain decoration when color is
// off.
type formatter struct {
	color  *color.Color
	prefix string
	suffix string
}

func (f formatter) Sprintf(format string, a ...any) string {
	text := fmt.Sprintf(format, a...)
	if noColor() {
		return f.prefix + text + f.suffix
	}
	return f.color.Sprint(text)
}

// noColor honours NO_COLOR and fatih/color's terminal detection.
func noColor() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return true
	}
	return color.NoColor
}

var (
	success  = formatter{color.New(color.FgGreen), "", ""}
	failure  = formatter{color.New(color.FgRed), "", ""}
	filename = formatter{color.New(color.FgYellow), "", ""}
	muted    = formatter{color.New(color.FgHiBlack), "(", ")"}
)

const (
	markOK  = "✓"
	markErr = "✗"
)
