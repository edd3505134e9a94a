package config

// DefaultDenylistWindows returns window titles, matched case-insensitively
// as substrings, whose keystrokes are never recorded. These cover password
// managers, credential prompts and banking portals.
func DefaultDenylistWindows() []string {
	return []string{
		// Password Managers
		"1Password",
		"Bitwarden",
		"KeePass",
		"KeePassXC",
		"LastPass",
		"Dashlane",
		"Keeper",
		"NordPass",
		"Enpass",

		// System credential prompts
		"Keychain Access",
		"Authentication Required",
		"Polkit",
		"pinentry",
		"Unlock Keyring",
		"User Account Control",

		// Banking & Financial
		"Chase",
		"Bank of America",
		"Wells Fargo",
		"PayPal",
		"Coinbase",
	}
}
