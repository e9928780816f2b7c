package httpchars

// IsToken reports whether the string is a non-empty token as of RFC 9110, 5.6.2. Both
// method names and header field names are tokens.
func IsToken(str string) bool {
	if len(str) == 0 {
		return false
	}

	for i := 0; i < len(str); i++ {
		if !tchar[str[i]] {
			return false
		}
	}

	return true
}

// IsFieldValue reports whether the string contains only visible characters, spaces and
// horizontal tabs. Obsolete non-ASCII text is allowed as well.
func IsFieldValue(str string) bool {
	for i := 0; i < len(str); i++ {
		if c := str[i]; (c < 0x20 && c != '\t') || c == 0x7f {
			return false
		}
	}

	return true
}

// IsTarget reports whether the string holds only visible ASCII characters, which is what's
// expected from an origin-form request target.
func IsTarget(str string) bool {
	for i := 0; i < len(str); i++ {
		if c := str[i]; c <= 0x20 || c >= 0x7f {
			return false
		}
	}

	return len(str) > 0
}

var tchar = func() (lut [256]bool) {
	for c := 'a'; c <= 'z'; c++ {
		lut[c] = true
	}

	for c := 'A'; c <= 'Z'; c++ {
		lut[c] = true
	}

	for c := '0'; c <= '9'; c++ {
		lut[c] = true
	}

	for _, c := range "!#$%&'*+-.^_`|~" {
		lut[c] = true
	}

	return lut
}()
