package conversation

import (
	"strconv"
	"strings"

	"github.com/md-rashed-zaman/turnobot/services/conversation-service/internal/apperror"
)

var (
	bookingKeywords      = []string{"turno", "reserva", "reservar", "agendar"}
	cancellationKeywords = []string{"cancelar", "cancelacion"}
)

var accentFolder = strings.NewReplacer("á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u")

// normalizeInput lowercases, folds accents and trims.
func normalizeInput(body string) string {
	return strings.TrimSpace(accentFolder.Replace(strings.ToLower(body)))
}

func containsAny(input string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(input, kw) {
			return true
		}
	}
	return false
}

// parseChoice reads a 1-based option number in [1, count].
func parseChoice(input string, count int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(input), "."))
	if err != nil {
		return 0, apperror.Wrap(err, apperror.KindValidation, "parse choice", "not a number")
	}
	if n < 1 || n > count {
		return 0, apperror.New(apperror.KindValidation, "parse choice", "option out of range")
	}
	return n, nil
}
