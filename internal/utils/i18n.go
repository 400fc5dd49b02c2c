package utils

// Minimal server-side i18n for fixed keys. Dashboard copy lives in the
// frontend; the server only translates the messages it originates.

var translations = map[string]map[string]string{
	"en": {
		"health.ok":     "ok",
		"auth.pending":  "Account created! Waiting for administrator approval. Please contact your administrator to activate your account.",
		"auth.inactive": "Your account is inactive. Please contact administrator.",
	},
	"fr": {
		"health.ok":     "ok",
		"auth.pending":  "Compte créé ! En attente d'approbation par un administrateur. Veuillez contacter votre administrateur pour activer votre compte.",
		"auth.inactive": "Votre compte est inactif. Veuillez contacter l'administrateur.",
	},
}

// T returns the translated string for key in locale; falls back to English.
func T(locale, key string) string {
	if m, ok := translations[locale]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	if m, ok := translations["en"]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	return key
}
