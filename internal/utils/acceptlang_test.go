package utils

import "testing"

func TestDetermineLocale_QueryParamWins(t *testing.T) {
	got := DetermineLocale("fr-CA", "en-US,en;q=0.9,fr;q=0.8", []string{"en", "fr"}, "en")
	if got != "fr" {
		t.Fatalf("want fr, got %s", got)
	}
}

func TestDetermineLocale_AcceptLanguagePrefersHigherQ(t *testing.T) {
	got := DetermineLocale("", "fr;q=0.9,en;q=0.8", []string{"en", "fr"}, "en")
	if got != "fr" {
		t.Fatalf("want fr, got %s", got)
	}
}

func TestDetermineLocale_RegionVariantCollapses(t *testing.T) {
	got := DetermineLocale("", "fr-FR,en;q=0.5", []string{"en", "fr"}, "en")
	if got != "fr" {
		t.Fatalf("want fr, got %s", got)
	}
}

func TestDetermineLocale_DefaultFallback(t *testing.T) {
	got := DetermineLocale("", "de-DE,es;q=0.9", []string{"en", "fr"}, "en")
	if got != "en" {
		t.Fatalf("want en fallback, got %s", got)
	}
}
