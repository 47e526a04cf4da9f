package hub

import "fmt"

// rangeFrom builds a Range header resuming at offset.
func rangeFrom(offset int64) string {
	if offset < 0 {
		offset = 0
	}
	return fmt.Sprintf("bytes=%d-", offset)
}

// parseContentRange parses "bytes start-end/total". An unknown total ("*")
// is returned as -1.
func parseContentRange(header string) (start, end, total int64, err error) {
	if header == "" {
		return 0, 0, 0, fmt.Errorf("empty Content-Range header")
	}

	var totalStr string
	n, scanErr := fmt.Sscanf(header, "bytes %d-%d/%s", &start, &end, &totalStr)
	if scanErr != nil || n < 3 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %q", header)
	}

	if totalStr == "*" {
		return start, end, -1, nil
	}
	if _, err := fmt.Sscanf(totalStr, "%d", &total); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid total in Content-Range: %q", totalStr)
	}
	return start, end, total, nil
}
