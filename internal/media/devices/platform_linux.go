package devices

// PlatformEnumerators returns the enumerators for this OS, synthetic last.
func PlatformEnumerators(string) []Enumerator {
	return []Enumerator{X11Enumerator(), V4L2Enumerator(), PulseEnumerator(), SyntheticEnumerator()}
}
