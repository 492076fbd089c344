package blueprint

// NormalizeRotation maps quarter-turns (any integer) or multiples of 90
// degrees to a quarter-turn count in [0,3].
func NormalizeRotation(r int) int {
	if r%90 == 0 && (r > 3 || r < -3) {
		r /= 90
	}
	r %= 4
	if r < 0 {
		r += 4
	}
	return r
}

// RotateOffset turns an offset clockwise about the Y axis by rot
// quarter-turns.
func RotateOffset(off [3]int, rot int) [3]int {
	x, y, z := off[0], off[1], off[2]
	switch rot & 3 {
	case 1:
		return [3]int{z, y, -x}
	case 2:
		return [3]int{-x, y, -z}
	case 3:
		return [3]int{-z, y, x}
	}
	return off
}
