package fhirpath

import "testing"

func TestTokenize(t *testing.T) {
	tests := []struct {
		input string
		kinds []tokenKind
		vals  []string
	}{
		{"Patient.name[0]", []tokenKind{tkIdent, tkDot, tkIdent, tkLBrack, tkNumber, tkRBrack, tkEOF}, []string{"Patient", ".", "name", "[", "0", "]", ""}},
		{"a != b <= c >= d < e > f = g | h", []tokenKind{tkIdent, tkNe, tkIdent, tkLe, tkIdent, tkGe, tkIdent, tkLt, tkIdent, tkGt, tkIdent, tkEq, tkIdent, tkPipe, tkIdent, tkEOF}, nil},
		{"-1.5 2.exists()", []tokenKind{tkNumber, tkNumber, tkDot, tkIdent, tkLParen, tkRParen, tkEOF}, []string{"-1.5", "2", ".", "exists", "(", ")", ""}},
		{"@2024-01-01T10:00:00Z %resource `div`", []tokenKind{tkDateTime, tkVariable, tkIdent, tkEOF}, []string{"2024-01-01T10:00:00Z", "resource", "div", ""}},
		{`'it\'s\né'`, []tokenKind{tkString, tkEOF}, []string{"it's\né", ""}},
	}
	for _, tt := range tests {
		tokens, err := tokenize(tt.input)
		if err != nil {
			t.Fatalf("tokenize(%q): %v", tt.input, err)
		}
		if len(tokens) != len(tt.kinds) {
			t.Fatalf("tokenize(%q) = %d tokens, want %d", tt.input, len(tokens), len(tt.kinds))
		}
		for i, tok := range tokens {
			if tok.kind != tt.kinds[i] {
				t.Errorf("tokenize(%q)[%d].kind = %d, want %d", tt.input, i, tok.kind, tt.kinds[i])
			}
			if tt.vals != nil && tok.value != tt.vals[i] {
				t.Errorf("tokenize(%q)[%d].value = %q, want %q", tt.input, i, tok.value, tt.vals[i])
			}
		}
	}
}

func TestTokenize_Positions(t *testing.T) {
	tokens, err := tokenize("  a.b")
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []int{2, 3, 4, 5} {
		if tokens[i].pos != want {
			t.Errorf("token %d at %d, want %d", i, tokens[i].pos, want)
		}
	}
}

func TestTokenize_Errors(t *testing.T) {
	for _, input := range []string{"'open", "`open", "% x", "a ! b", "- x", "a # b"} {
		if _, err := tokenize(input); err == nil {
			t.Errorf("tokenize(%q): expected error", input)
		}
	}
}
