package intake

import (
	"strings"

	"github.com/FireBladesAdi/dental-form-pro/internal/docstore"
)

// NormalizeClinicID turns whatever a user typed into a namespace key:
// trimmed, lower-cased, every character outside [a-z0-9] replaced by '-'.
func NormalizeClinicID(raw string) (string, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	var b strings.Builder
	for _, r := range raw {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "", invalidInput("clinic id is required")
	}
	return b.String(), nil
}

func configPath(clinic string) string {
	return docstore.Join("clinics", clinic, "config")
}

func templatesPath(clinic string) string {
	return docstore.Join("clinics", clinic, "templates")
}

func sessionsCollection(clinic string) string {
	return docstore.Join("clinics", clinic, "sessions")
}

func sessionPath(clinic, id string) string {
	return docstore.Join(sessionsCollection(clinic), id)
}

func submissionsCollection(clinic string) string {
	return docstore.Join("clinics", clinic, "submissions")
}

func submissionPath(clinic, id string) string {
	return docstore.Join(submissionsCollection(clinic), id)
}

// validID rejects identifiers that would escape their collection.
func validID(id string) bool {
	return id != "" && !strings.Contains(id, "/")
}
