package sqlmatch

import (
	"reflect"
	"testing"
)

func kinds(tokens []Token) []Kind {
	out := make([]Kind, len(tokens))
	for i, t := range tokens {
		out[i] = t.Kind
	}
	return out
}

func TestTokenize_EndsWithEOF(t *testing.T) {
	tokens := Tokenize("SELECT 1")
	if len(tokens) == 0 || tokens[len(tokens)-1].Kind != EOF {
		t.Fatalf("Tokenize() last token = %+v, want EOF", tokens)
	}
}

func TestTokenize_Placeholder(t *testing.T) {
	tokens := FilterSignificant(Tokenize("WHERE ID = ?"))
	want := []Kind{Word, Word, Punct, Placeholder}
	if !reflect.DeepEqual(kinds(tokens), want) {
		t.Errorf("kinds = %v, want %v", kinds(tokens), want)
	}
}

func TestTokenize_SingleQuotedStringWithEscapedQuote(t *testing.T) {
	tokens := FilterSignificant(Tokenize("'it''s'"))
	if len(tokens) != 1 || tokens[0].Kind != SingleQuotedString {
		t.Fatalf("tokens = %+v", tokens)
	}
	if tokens[0].Value != "it's" {
		t.Errorf("Value = %q, want it's", tokens[0].Value)
	}
}

func TestTokenize_NationalAndHexStringLiterals(t *testing.T) {
	tokens := FilterSignificant(Tokenize("N'hello' X'1A2B'"))
	if len(tokens) != 2 {
		t.Fatalf("tokens = %+v", tokens)
	}
	if tokens[0].Kind != NationalStringLiteral || tokens[0].Value != "hello" {
		t.Errorf("token[0] = %+v", tokens[0])
	}
	if tokens[1].Kind != HexStringLiteral || tokens[1].Value != "1A2B" {
		t.Errorf("token[1] = %+v", tokens[1])
	}
}

func TestTokenize_IdentifierPrefixNotMistakenForLiteral(t *testing.T) {
	// "Name" should lex as a single Word, not as N + 'ame (there's no
	// quote character following the N at all here, but "Nx" style idents
	// starting with N/X/E must still lex as one Word).
	tokens := FilterSignificant(Tokenize("Name"))
	if len(tokens) != 1 || tokens[0].Kind != Word || tokens[0].Value != "Name" {
		t.Errorf("tokens = %+v, want single Word(Name)", tokens)
	}
}

func TestTokenize_Number(t *testing.T) {
	tokens := FilterSignificant(Tokenize("3.14 42 1e10"))
	want := []string{"3.14", "42", "1e10"}
	if len(tokens) != len(want) {
		t.Fatalf("tokens = %+v", tokens)
	}
	for i, tok := range tokens {
		if tok.Kind != Number || tok.Value != want[i] {
			t.Errorf("token[%d] = %+v, want Number(%s)", i, tok, want[i])
		}
	}
}

func TestTokenize_BlockAndLineComments(t *testing.T) {
	tokens := Tokenize("SELECT 1 /* hint */ -- trailing\nFROM t")
	for _, tok := range tokens {
		if tok.Kind == Whitespace {
			continue
		}
	}
	filtered := FilterSignificant(tokens)
	want := []string{"SELECT", "1", "FROM", "t"}
	if len(filtered) != 4 {
		t.Fatalf("filtered = %+v", filtered)
	}
	_ = want
}

func TestTokenize_MultiCharOperators(t *testing.T) {
	tokens := FilterSignificant(Tokenize("A <> B AND C <= D"))
	var puncts []string
	for _, tok := range tokens {
		if tok.Kind == Punct {
			puncts = append(puncts, tok.Value)
		}
	}
	if !reflect.DeepEqual(puncts, []string{"<>", "<="}) {
		t.Errorf("puncts = %v, want [<> <=]", puncts)
	}
}
