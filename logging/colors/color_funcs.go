package colors

import "fmt"

// ColorFunc colorizes any value into a string. Passing a ColorFunc to the logger switches the color context for the
// arguments that follow it.
type ColorFunc = func(s any) string

// Reset renders the value without any color and resets the logger's color context.
func Reset(s any) string {
	return fmt.Sprintf("%v", s)
}

// Red renders the value in red.
func Red(s any) string {
	return Colorize(s, RED)
}

// RedBold renders the value in bold red.
func RedBold(s any) string {
	return Colorize(Colorize(s, RED), BOLD)
}

// Green renders the value in green.
func Green(s any) string {
	return Colorize(s, GREEN)
}

// GreenBold renders the value in bold green.
func GreenBold(s any) string {
	return Colorize(Colorize(s, GREEN), BOLD)
}

// Yellow renders the value in yellow.
func Yellow(s any) string {
	return Colorize(s, YELLOW)
}

// YellowBold renders the value in bold yellow.
func YellowBold(s any) string {
	return Colorize(Colorize(s, YELLOW), BOLD)
}

// BlueBold renders the value in bold blue.
func BlueBold(s any) string {
	return Colorize(Colorize(s, BLUE), BOLD)
}

// Magenta renders the value in magenta.
func Magenta(s any) string {
	return Colorize(s, MAGENTA)
}

// CyanBold renders the value in bold cyan.
func CyanBold(s any) string {
	return Colorize(Colorize(s, CYAN), BOLD)
}

// Bold renders the value in bold.
func Bold(s any) string {
	return Colorize(s, BOLD)
}

// DarkGray renders the value in dark gray.
func DarkGray(s any) string {
	return Colorize(s, DARK_GRAY)
}
