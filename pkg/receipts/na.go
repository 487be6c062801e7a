package receipts

// NA is the sentinel for unset string slots. It is preserved on the wire and
// in SQL; internally absence is tested through IsSet rather than comparing
// against empty strings.
const NA = "NA"

// IsSet reports whether a string slot carries a real value.
func IsSet(s string) bool {
	return s != "" && s != NA
}

// OrNA materializes absence to the sentinel at the serialization boundary.
func OrNA(s string) string {
	if s == "" {
		return NA
	}
	return s
}
