package identity

import "testing"

func TestParseAndFormatRefreshParts(t *testing.T) {
	composite := "rt-abc|proj-1|managed-proj-1"
	parts := ParseRefreshParts(composite)
	if parts.RefreshToken != "rt-abc" || parts.ProjectID != "proj-1" || parts.ManagedProjectID != "managed-proj-1" {
		t.Fatalf("unexpected parse: %+v", parts)
	}
	if got := FormatRefreshParts(parts); got != composite {
		t.Fatalf("got %q want %q", got, composite)
	}
}

func TestParseRefreshPartsWithoutProjectFields(t *testing.T) {
	parts := ParseRefreshParts("just-a-token")
	if parts.RefreshToken != "just-a-token" || parts.ProjectID != "" || parts.ManagedProjectID != "" {
		t.Fatalf("unexpected parse: %+v", parts)
	}
}
