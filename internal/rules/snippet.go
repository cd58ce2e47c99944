package rules

const maxEvidence = 64

func snippet(value []byte) string {
	if len(value) <= maxEvidence {
		return string(value)
	}
	return string(value[:maxEvidence])
}
