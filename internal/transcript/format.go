// Package transcript renders an email chain as the plain-text block sent to
// the model.
package transcript

import (
	"strings"

	"github.com/kalambet/threadattrs/internal/storage"
)

// Format concatenates each email as "Subject: ...\nBody: ...\n\n" in chain
// order. An empty chain yields "". Sender, timestamp and type are not part
// of the transcript.
func Format(chain []storage.EmailRecord) string {
	if len(chain) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, e := range chain {
		sb.WriteString("Subject: ")
		sb.WriteString(e.Subject)
		sb.WriteString("\nBody: ")
		sb.WriteString(e.Body)
		sb.WriteString("\n\n")
	}
	return sb.String()
}
