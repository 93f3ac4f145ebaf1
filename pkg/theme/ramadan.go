package theme

// Built-in theme with a green and gold palette for prayer schedule embeds.
// Select it with STATUSBOT_THEME=ramadan.
func init() {
	MustRegister(&Theme{
		Name:     "ramadan",
		Primary:  0x1F7A4D,
		Schedule: 0xD4AF37, // gold
	})
}
