//go:build !linux && !darwin && !windows

package devices

func PlatformEnumerators(string) []Enumerator {
	return []Enumerator{SyntheticEnumerator()}
}
