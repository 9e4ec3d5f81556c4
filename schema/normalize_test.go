package schema

import "testing"

func TestValidateSessionID(t *testing.T) {
	valid := []SessionID{"abc", "client_xyz123", "a-b.c_9"}
	for _, id := range valid {
		if err := ValidateSessionID(id); err != nil {
			t.Fatalf("expected %q to be valid: %v", id, err)
		}
	}
	invalid := []SessionID{"", "HasUpper", "white space", "café", "x/y"}
	for _, id := range invalid {
		if err := ValidateSessionID(id); err == nil {
			t.Fatalf("expected %q to be invalid", id)
		}
	}
	long := make([]byte, 65)
	for i := range long {
		long[i] = 'a'
	}
	if err := ValidateSessionID(SessionID(long)); err == nil {
		t.Fatalf("expected overlong id to be invalid")
	}
}

func TestNormalizeFieldsDropsEmptyKeys(t *testing.T) {
	fields := NormalizeFields(map[FieldKey]string{
		"  password ": "hunter2",
		"   ":         "dropped",
		"":            "dropped",
	})
	if len(fields) != 1 {
		t.Fatalf("expected 1 field, got %d", len(fields))
	}
	if fields["password"] != "hunter2" {
		t.Fatalf("expected trimmed key to survive, got %+v", fields)
	}
	if NormalizeFields(nil) != nil {
		t.Fatalf("expected nil for empty input")
	}
}

func TestCommandTokenClassification(t *testing.T) {
	cases := map[CommandToken]bool{
		"invalid_password": true,
		"inv_telefone":     true,
		" invalid_gmailsms ": true,
		"advance_x":        false,
		"":                 false,
		"invalidish":       false,
	}
	for token, want := range cases {
		if got := token.IsInvalidation(); got != want {
			t.Fatalf("IsInvalidation(%q) = %v, want %v", token, got, want)
		}
	}
}

func TestRecordLatestCommandSkipsBlankEntries(t *testing.T) {
	rec := Record{Commands: []CommandToken{"advance_x", "   ", ""}}
	token, ok := rec.LatestCommand()
	if !ok || token != "advance_x" {
		t.Fatalf("expected advance_x, got %q ok=%v", token, ok)
	}
	rec = Record{Commands: []CommandToken{"advance_x", "invalid_password"}}
	token, ok = rec.LatestCommand()
	if !ok || token != "invalid_password" {
		t.Fatalf("expected latest token to win, got %q", token)
	}
	if _, ok := (Record{}).LatestCommand(); ok {
		t.Fatalf("expected no command on empty record")
	}
}

func TestRecordCloneIsDeep(t *testing.T) {
	rec := Record{
		Session:  "s1",
		Fields:   map[FieldKey]string{"email": "a@b.c"},
		Commands: []CommandToken{"advance_x"},
	}
	clone := rec.Clone()
	clone.Fields["email"] = "mutated"
	clone.Commands[0] = "mutated"
	if rec.Fields["email"] != "a@b.c" {
		t.Fatalf("clone shares field map")
	}
	if rec.Commands[0] != "advance_x" {
		t.Fatalf("clone shares command slice")
	}
}
