package colors

// Color is an ANSI SGR code.
type Color int

// ANSI foreground codes, see https://github.com/rs/zerolog/blob/4fff5db29c3403bc26dee9895e12a108aacc0203/console.go
const (
	RED Color = iota + 31
	GREEN
	YELLOW
	BLUE
	MAGENTA
	CYAN

	// BOLD wraps text in the bold attribute
	BOLD Color = 1
	// DARK_GRAY is used for low-priority detail such as program counters
	DARK_GRAY Color = 90
)

// LEFT_ARROW prefixes info-level console lines.
const LEFT_ARROW = "⇾"
