package hexconv

// decodeTable holds the digit value plus one, so zero marks a non-hex character.
var decodeTable = [256]byte{
	'0': 0x1, '1': 0x2, '2': 0x3, '3': 0x4, '4': 0x5,
	'5': 0x6, '6': 0x7, '7': 0x8, '8': 0x9, '9': 0xa,
	'a': 0xb, 'b': 0xc, 'c': 0xd, 'd': 0xe, 'e': 0xf, 'f': 0x10,
	'A': 0xb, 'B': 0xc, 'C': 0xd, 'D': 0xe, 'E': 0xf, 'F': 0x10,
}

// Parse returns the value of a hex digit. Both cases are accepted.
func Parse(char byte) (value byte, ok bool) {
	value = decodeTable[char]
	return value - 1, value != 0
}

// Byte decodes a pair of hex digits, the most significant goes first.
func Byte(high, low byte) (value byte, ok bool) {
	h, hok := Parse(high)
	l, lok := Parse(low)
	return h<<4 | l, hok && lok
}
