package alerting

import (
	"fmt"

	"github.com/good-yellow-bee/origami/internal/models"
)

// Malformed returns the single INFO draft emitted for a payload an engine
// cannot read.
func Malformed(packet models.DataPacket, reason string) models.AlertDraft {
	return models.AlertDraft{
		SubjectID: packet.SourceID,
		Category:  models.CategoryMalformedInput,
		Severity:  models.SeverityInfo,
		Message:   fmt.Sprintf("Malformed %s payload: %s", packet.DataType, reason),
		Context: map[string]string{
			"data_type": packet.DataType,
			"reason":    reason,
		},
	}
}

// Malformedf is Malformed with a formatted reason.
func Malformedf(packet models.DataPacket, format string, args ...any) []models.AlertDraft {
	return []models.AlertDraft{Malformed(packet, fmt.Sprintf(format, args...))}
}
