package devices

// PlatformEnumerators returns the enumerators for this OS, synthetic last.
func PlatformEnumerators(ffmpeg string) []Enumerator {
	return []Enumerator{AVFoundationEnumerator(ffmpeg), SyntheticEnumerator()}
}
