package util

// MaskKey obscures an API key for logging, showing only the first and last
// four characters. Short keys are fully masked.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
