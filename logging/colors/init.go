package colors

// enabled gates every Colorize call. Windows consoles flip it off when virtual terminal processing is unavailable.
var enabled = true

func init() {
	EnableColor()
}

// DisableColor turns every ColorFunc into a plain formatter.
func DisableColor() {
	enabled = false
}
